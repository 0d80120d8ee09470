package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	// HeaderName holds the key. Default: "X-API-Key".
	HeaderName string
}

// APIKeyInfo describes a registered key. Only its hash is stored.
type APIKeyInfo struct {
	ID      string
	KeyHash string

	// CallerID is the caller the key authenticates as.
	CallerID string
	Tenant   string
	Roles    []string

	// ExpiresAt is when the key expires. Zero never expires.
	ExpiresAt time.Time
	Metadata  map[string]any
}

// APIKeyStore looks keys up by hash.
type APIKeyStore interface {
	// Lookup returns nil when no key has the hash.
	Lookup(ctx context.Context, keyHash string) (*APIKeyInfo, error)
}

// APIKeyAuthenticator validates API keys against a store.
type APIKeyAuthenticator struct {
	config APIKeyConfig
	store  APIKeyStore
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(config APIKeyConfig, store APIKeyStore) *APIKeyAuthenticator {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKeyAuthenticator{config: config, store: store}
}

func (a *APIKeyAuthenticator) Name() string { return string(MethodAPIKey) }

// Supports reports whether the key header is present.
func (a *APIKeyAuthenticator) Supports(req *Request) bool {
	return req.Header(a.config.HeaderName) != ""
}

// Authenticate hashes the presented key and looks it up.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	key := strings.TrimSpace(req.Header(a.config.HeaderName))
	if key == "" {
		return Failure(ErrMissingCredentials, a.Name()), nil
	}

	info, err := a.store.Lookup(ctx, HashAPIKey(key))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return Failure(ErrInvalidCredentials, a.Name()), nil
	}
	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return Failure(ErrTokenExpired, a.Name()), nil
	}

	caller := &Caller{
		ID:        info.CallerID,
		Tenant:    info.Tenant,
		Roles:     info.Roles,
		Method:    MethodAPIKey,
		ExpiresAt: info.ExpiresAt,
		Claims:    make(map[string]any, len(info.Metadata)+1),
	}
	for k, v := range info.Metadata {
		caller.Claims[k] = v
	}
	caller.Claims["key_id"] = info.ID

	return Success(caller), nil
}

// HashAPIKey returns the hex SHA-256 of key, the form keys are stored in.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MemoryAPIKeyStore is an in-memory APIKeyStore.
type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyInfo
}

// NewMemoryAPIKeyStore creates an empty store.
func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{keys: make(map[string]*APIKeyInfo)}
}

func (s *MemoryAPIKeyStore) Lookup(_ context.Context, keyHash string) (*APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[keyHash], nil
}

// Add registers info under its KeyHash.
func (s *MemoryAPIKeyStore) Add(info *APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[info.KeyHash] = info
}

// Remove forgets the key with the given hash.
func (s *MemoryAPIKeyStore) Remove(keyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyHash)
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ APIKeyStore   = (*MemoryAPIKeyStore)(nil)
)
