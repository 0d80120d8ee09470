package auth

import "time"

// Method indicates how a caller was authenticated.
type Method string

const (
	MethodAnonymous Method = "anonymous"
	MethodJWT       Method = "jwt"
	MethodAPIKey    Method = "api_key"
)

// Caller is the authenticated principal behind a call.
type Caller struct {
	// ID uniquely identifies the caller and scopes user specific cache entries.
	ID string

	// Tenant is the caller's tenant, if any.
	Tenant string

	Roles  []string
	Method Method

	// Claims holds the raw token claims or key metadata.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole reports whether the caller holds role.
func (c *Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsExpired reports whether the caller's credentials have expired.
func (c *Caller) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// IsAnonymous reports whether the caller is unauthenticated.
func (c *Caller) IsAnonymous() bool {
	return c == nil || c.ID == "" || c.Method == MethodAnonymous
}
