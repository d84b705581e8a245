// Package auth supplies OAuth access tokens for users' linked accounts to
// the reactions that call third-party APIs on their behalf.
package auth

import (
	"context"
	"time"
)

// Token is a stored OAuth grant for one user and provider.
type Token struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Revoked      bool       `json:"revoked,omitempty"`
}

// AuthorizationHeader renders the token for an HTTP Authorization header.
func (t *Token) AuthorizationHeader() string {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.AccessToken
}

// TokenSource resolves a valid token. Failures are *schema.AreaError with
// code AUTH_REVOKED (no usable grant) or AUTH_EXPIRED (grant past expiry).
type TokenSource interface {
	Token(ctx context.Context, userID, provider string) (*Token, error)
}
