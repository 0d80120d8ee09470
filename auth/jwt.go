package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must be present in the aud claim.
	Audience string

	// HeaderName holds the token. Default: "Authorization".
	HeaderName string

	// TokenPrefix precedes the token. Default: "Bearer ".
	TokenPrefix string

	// IDClaim holds the caller ID. Default: "sub".
	IDClaim string

	TenantClaim string
	RolesClaim  string

	// Methods lists the accepted signing algorithms. Default: HS256.
	Methods []string
}

// KeyProvider retrieves signing keys for JWT validation.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a single HMAC key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key regardless of keyID.
func (p *StaticKeyProvider) GetKey(context.Context, string) (any, error) {
	if len(p.key) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.key, nil
}

// JWTAuthenticator validates bearer tokens.
type JWTAuthenticator struct {
	config      JWTConfig
	keyProvider KeyProvider
	parser      *jwt.Parser
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(config JWTConfig, keyProvider KeyProvider) *JWTAuthenticator {
	if config.HeaderName == "" {
		config.HeaderName = "Authorization"
	}
	if config.TokenPrefix == "" {
		config.TokenPrefix = "Bearer "
	}
	if config.IDClaim == "" {
		config.IDClaim = "sub"
	}
	if len(config.Methods) == 0 {
		config.Methods = []string{jwt.SigningMethodHS256.Alg()}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(config.Methods)}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{
		config:      config,
		keyProvider: keyProvider,
		parser:      jwt.NewParser(opts...),
	}
}

func (a *JWTAuthenticator) Name() string { return string(MethodJWT) }

// Supports reports whether the configured header carries the token prefix.
func (a *JWTAuthenticator) Supports(req *Request) bool {
	return strings.HasPrefix(req.Header(a.config.HeaderName), a.config.TokenPrefix)
}

// Authenticate validates the token and builds a caller from its claims.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	header := req.Header(a.config.HeaderName)
	token, ok := strings.CutPrefix(header, a.config.TokenPrefix)
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return Failure(ErrMissingCredentials, a.Name()), nil
	}

	claims := jwt.MapClaims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keyProvider.GetKey(ctx, kid)
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Failure(ErrTokenExpired, a.Name()), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Failure(ErrTokenMalformed, a.Name()), nil
	case err != nil:
		return Failure(fmt.Errorf("%w: %w", ErrInvalidCredentials, err), a.Name()), nil
	case !parsed.Valid:
		return Failure(ErrInvalidCredentials, a.Name()), nil
	}

	caller := a.callerFromClaims(claims)
	if caller.ID == "" {
		return Failure(fmt.Errorf("%w: no %s claim", ErrInvalidCredentials, a.config.IDClaim), a.Name()), nil
	}
	return Success(caller), nil
}

func (a *JWTAuthenticator) callerFromClaims(claims jwt.MapClaims) *Caller {
	caller := &Caller{
		Method: MethodJWT,
		Claims: make(map[string]any, len(claims)),
	}
	for k, v := range claims {
		caller.Claims[k] = v
	}

	caller.ID, _ = claims[a.config.IDClaim].(string)
	if a.config.TenantClaim != "" {
		caller.Tenant, _ = claims[a.config.TenantClaim].(string)
	}
	if a.config.RolesClaim != "" {
		if roles, ok := claims[a.config.RolesClaim].([]any); ok {
			for _, r := range roles {
				if s, ok := r.(string); ok {
					caller.Roles = append(caller.Roles, s)
				}
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		caller.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		caller.IssuedAt = iat.Time
	}
	return caller
}

// SignHS256 issues an HS256 token for claims. It exists for tests and the CLI.
func SignHS256(key []byte, claims jwt.MapClaims) (string, error) {
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = time.Now().Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

var (
	_ Authenticator = (*JWTAuthenticator)(nil)
	_ KeyProvider   = (*StaticKeyProvider)(nil)
)
