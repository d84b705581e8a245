package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rendis/area/internal/secrets"
	"github.com/rendis/area/pkg/schema"
)

// DefaultExpirySkew treats tokens about to expire as already expired so a
// request does not race the deadline.
const DefaultExpirySkew = 30 * time.Second

// Key returns the vault key holding the grant for userID and provider.
func Key(userID, provider string) string {
	return fmt.Sprintf("oauth/%s/%s", userID, provider)
}

// VaultTokenSource reads grants stored as JSON in the secrets vault.
// Concurrent lookups for the same account share one vault read.
type VaultTokenSource struct {
	vault secrets.Vault
	skew  time.Duration
	now   func() time.Time
	group singleflight.Group
}

// Option configures a VaultTokenSource.
type Option func(*VaultTokenSource)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *VaultTokenSource) { s.now = now }
}

// WithExpirySkew overrides DefaultExpirySkew.
func WithExpirySkew(d time.Duration) Option {
	return func(s *VaultTokenSource) { s.skew = d }
}

// NewVaultTokenSource creates a VaultTokenSource over v.
func NewVaultTokenSource(v secrets.Vault, opts ...Option) *VaultTokenSource {
	s := &VaultTokenSource{vault: v, skew: DefaultExpirySkew, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *VaultTokenSource) Token(ctx context.Context, userID, provider string) (*Token, error) {
	if userID == "" || provider == "" {
		return nil, schema.NewErrorf(schema.ErrCodeAuthRevoked,
			"no linked %q account for user %q", provider, userID)
	}
	key := Key(userID, provider)

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	tok := *v.(*Token)

	if tok.Revoked || tok.AccessToken == "" {
		return nil, schema.NewErrorf(schema.ErrCodeAuthRevoked,
			"%s access for user %s was revoked", provider, userID)
	}
	if tok.ExpiresAt != nil && !s.now().Add(s.skew).Before(*tok.ExpiresAt) {
		return nil, schema.NewErrorf(schema.ErrCodeAuthExpired,
			"%s token for user %s expired at %s", provider, userID, tok.ExpiresAt.UTC().Format(time.RFC3339)).
			WithDetails(map[string]any{"provider": provider, "expires_at": tok.ExpiresAt})
	}
	return &tok, nil
}

func (s *VaultTokenSource) load(ctx context.Context, key string) (*Token, error) {
	raw, err := s.vault.Resolve(ctx, key)
	if err != nil {
		var areaErr *schema.AreaError
		if errors.As(err, &areaErr) && areaErr.Code == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeAuthRevoked, "no linked account at %s", key).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeVault, "read %s", key).WithCause(err)
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAuthRevoked, "stored grant at %s is unreadable", key).WithCause(err)
	}
	return &tok, nil
}

// PutToken stores or replaces the grant for userID and provider.
func (s *VaultTokenSource) PutToken(ctx context.Context, userID, provider string, tok *Token) error {
	if tok == nil {
		return schema.NewError(schema.ErrCodeValidation, "token is nil")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return s.vault.Store(ctx, Key(userID, provider), data)
}

// Revoke marks the grant as revoked, keeping the record for auditing.
func (s *VaultTokenSource) Revoke(ctx context.Context, userID, provider string) error {
	tok, err := s.load(ctx, Key(userID, provider))
	if err != nil {
		return err
	}
	tok.Revoked = true
	return s.PutToken(ctx, userID, provider, tok)
}

// Providers lists the providers linked for userID.
func (s *VaultTokenSource) Providers(ctx context.Context, userID string) ([]string, error) {
	prefix := Key(userID, "")
	keys, err := s.vault.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(prefix):])
	}
	return out, nil
}

var _ TokenSource = (*VaultTokenSource)(nil)
