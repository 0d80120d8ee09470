package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("test-signing-key")

func bearer(t *testing.T, key []byte, claims jwt.MapClaims) *Request {
	t.Helper()
	token, err := SignHS256(key, claims)
	if err != nil {
		t.Fatalf("SignHS256() error = %v", err)
	}
	return NewRequest("r", http.Header{"Authorization": {"Bearer " + token}})
}

func TestJWTAuthenticator_Supports(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{}, NewStaticKeyProvider(testKey))

	tests := []struct {
		name    string
		headers http.Header
		want    bool
	}{
		{"no header", http.Header{}, false},
		{"bearer", http.Header{"Authorization": {"Bearer abc"}}, true},
		{"basic", http.Header{"Authorization": {"Basic abc"}}, false},
	}
	for _, tt := range tests {
		if got := a.Supports(NewRequest("r", tt.headers)); got != tt.want {
			t.Errorf("%s: Supports() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestJWTAuthenticator_Authenticate(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{
		Issuer:      "rpccache",
		Audience:    "api",
		TenantClaim: "tid",
		RolesClaim:  "roles",
	}, NewStaticKeyProvider(testKey))

	future := time.Now().Add(time.Hour).Unix()
	valid := jwt.MapClaims{
		"sub":   "u1",
		"iss":   "rpccache",
		"aud":   "api",
		"tid":   "acme",
		"roles": []any{"admin", "reader"},
		"exp":   future,
	}

	res, err := a.Authenticate(context.Background(), bearer(t, testKey, valid))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !res.Authenticated {
		t.Fatalf("Authenticated = false: %v", res.Err)
	}
	c := res.Caller
	if c.ID != "u1" || c.Tenant != "acme" || c.Method != MethodJWT {
		t.Errorf("caller = %+v", c)
	}
	if !c.HasRole("admin") || !c.HasRole("reader") {
		t.Errorf("roles = %v", c.Roles)
	}
	if c.ExpiresAt.Unix() != future {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt.Unix(), future)
	}
}

func TestJWTAuthenticator_Failures(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Issuer: "rpccache"}, NewStaticKeyProvider(testKey))
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		req  *Request
		want error
	}{
		{
			name: "expired",
			req:  bearer(t, testKey, jwt.MapClaims{"sub": "u1", "iss": "rpccache", "exp": time.Now().Add(-time.Hour).Unix()}),
			want: ErrTokenExpired,
		},
		{
			name: "wrong key",
			req:  bearer(t, []byte("other"), jwt.MapClaims{"sub": "u1", "iss": "rpccache", "exp": exp}),
			want: ErrInvalidCredentials,
		},
		{
			name: "wrong issuer",
			req:  bearer(t, testKey, jwt.MapClaims{"sub": "u1", "iss": "evil", "exp": exp}),
			want: ErrInvalidCredentials,
		},
		{
			name: "no subject",
			req:  bearer(t, testKey, jwt.MapClaims{"iss": "rpccache", "exp": exp}),
			want: ErrInvalidCredentials,
		},
		{
			name: "malformed",
			req:  NewRequest("r", http.Header{"Authorization": {"Bearer not.a.jwt"}}),
			want: ErrTokenMalformed,
		},
		{
			name: "empty token",
			req:  NewRequest("r", http.Header{"Authorization": {"Bearer "}}),
			want: ErrMissingCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Authenticate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if res.Authenticated {
				t.Fatal("Authenticated = true, want false")
			}
			if !errors.Is(res.Err, tt.want) {
				t.Errorf("Err = %v, want %v", res.Err, tt.want)
			}
		})
	}
}

func TestStaticKeyProvider_Empty(t *testing.T) {
	if _, err := NewStaticKeyProvider(nil).GetKey(context.Background(), ""); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("GetKey() error = %v, want ErrKeyNotFound", err)
	}
}
