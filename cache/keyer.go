package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// KeyPrefix starts every key built by the default scheme.
	KeyPrefix = "cache"

	// AnonymousCaller stands in for the caller of a call that carries no identity.
	AnonymousCaller = "anonymous"
)

// KeyFunc replaces the default key scheme. It sees only the route and the
// input; scope flags and the caller are not applied to its result, which is
// used verbatim, even when blank.
type KeyFunc func(route string, input any) string

// Keyer derives cache keys from calls.
//
// Contract:
// - Determinism: the same call under the same configuration yields the same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(call Call) (string, error)
}

// KeyerFunc adapts a function to Keyer.
type KeyerFunc func(call Call) (string, error)

// Key calls f.
func (f KeyerFunc) Key(call Call) (string, error) {
	return f(call)
}

// DefaultKeyer applies the key scheme of a Config.
type DefaultKeyer struct {
	cfg Config
}

// NewDefaultKeyer creates a keyer bound to cfg.
func NewDefaultKeyer(cfg Config) *DefaultKeyer {
	return &DefaultKeyer{cfg: cfg}
}

// Key derives the key for call.
func (k *DefaultKeyer) Key(call Call) (string, error) {
	return DeriveKey(call, k.cfg)
}

// DeriveKey builds the cache key for call under cfg.
//
// GetCacheKey wins over everything else, then GlobalCache, then UserSpecific:
//
//	cache:global:<route>:<input>
//	cache:user:<route>:<caller>:<input>
//	cache:<route>:<input>
func DeriveKey(call Call, cfg Config) (string, error) {
	if cfg.GetCacheKey != nil {
		return customKey(cfg.GetCacheKey, call)
	}

	input, err := EncodeInput(call.Input)
	if err != nil {
		return "", err
	}

	switch {
	case cfg.GlobalCache:
		return KeyPrefix + ":global:" + call.Route + ":" + input, nil
	case cfg.UserSpecific:
		return KeyPrefix + ":user:" + call.Route + ":" + call.Caller() + ":" + input, nil
	default:
		return KeyPrefix + ":" + call.Route + ":" + input, nil
	}
}

// EncodeInput renders the input segment of a key. A nil input is empty and a
// json.RawMessage is compacted, keeping its member order; anything else is
// JSON encoded. Keys are not canonicalized: inputs whose members are ordered
// differently key differently.
func EncodeInput(input any) (string, error) {
	switch v := input.(type) {
	case nil:
		return "", nil
	case json.RawMessage:
		if len(v) == 0 {
			return "", nil
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return "", fmt.Errorf("cache: encode input: %w", err)
		}
		return buf.String(), nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("cache: encode input: %w", err)
	}
	return string(data), nil
}

func customKey(fn KeyFunc, call Call) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			key, err = "", fmt.Errorf("cache: custom key function panicked: %v", r)
		}
	}()
	return fn(call.Route, call.Input), nil
}

var (
	_ Keyer = (*DefaultKeyer)(nil)
	_ Keyer = KeyerFunc(nil)
)
