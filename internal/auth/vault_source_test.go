package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/internal/secrets"
	"github.com/rendis/area/pkg/schema"
)

// memSecrets is an in-memory secrets.SecretStore counting reads.
type memSecrets struct {
	mu    sync.Mutex
	data  map[string][]byte
	reads atomic.Int32
	gate  chan struct{}
	fail  error
}

func newMemSecrets() *memSecrets {
	return &memSecrets{data: make(map[string][]byte)}
}

func (m *memSecrets) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memSecrets) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.reads.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if m.fail != nil {
		return nil, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *memSecrets) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memSecrets) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newSource(t *testing.T) (*VaultTokenSource, *memSecrets) {
	t.Helper()
	store := newMemSecrets()
	v, err := secrets.NewAESVault(store, secrets.VaultConfig{MasterKey: make([]byte, 32)})
	require.NoError(t, err)
	return NewVaultTokenSource(v, WithClock(func() time.Time { return now })), store
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var areaErr *schema.AreaError
	require.True(t, errors.As(err, &areaErr), "got %v", err)
	assert.Equal(t, code, areaErr.Code)
}

func TestVaultTokenSource_ValidToken(t *testing.T) {
	s, _ := newSource(t)
	ctx := context.Background()
	exp := now.Add(time.Hour)

	require.NoError(t, s.PutToken(ctx, "u1", "github", &Token{AccessToken: "gho_1", ExpiresAt: &exp}))

	tok, err := s.Token(ctx, "u1", "github")
	require.NoError(t, err)
	assert.Equal(t, "gho_1", tok.AccessToken)
	assert.Equal(t, "Bearer gho_1", tok.AuthorizationHeader())
}

func TestVaultTokenSource_MissingIsRevoked(t *testing.T) {
	s, _ := newSource(t)
	_, err := s.Token(context.Background(), "u1", "github")
	requireCode(t, err, schema.ErrCodeAuthRevoked)

	_, err = s.Token(context.Background(), "", "github")
	requireCode(t, err, schema.ErrCodeAuthRevoked)
}

func TestVaultTokenSource_Expired(t *testing.T) {
	s, _ := newSource(t)
	ctx := context.Background()

	past := now.Add(-time.Minute)
	require.NoError(t, s.PutToken(ctx, "u1", "github", &Token{AccessToken: "old", ExpiresAt: &past}))
	_, err := s.Token(ctx, "u1", "github")
	requireCode(t, err, schema.ErrCodeAuthExpired)

	// Within the skew window counts as expired.
	soon := now.Add(10 * time.Second)
	require.NoError(t, s.PutToken(ctx, "u1", "google", &Token{AccessToken: "soon", ExpiresAt: &soon}))
	_, err = s.Token(ctx, "u1", "google")
	requireCode(t, err, schema.ErrCodeAuthExpired)
}

func TestVaultTokenSource_NoExpiryNeverExpires(t *testing.T) {
	s, _ := newSource(t)
	ctx := context.Background()
	require.NoError(t, s.PutToken(ctx, "u1", "discord", &Token{AccessToken: "bot", TokenType: "Bot"}))

	tok, err := s.Token(ctx, "u1", "discord")
	require.NoError(t, err)
	assert.Equal(t, "Bot bot", tok.AuthorizationHeader())
}

func TestVaultTokenSource_Revoke(t *testing.T) {
	s, _ := newSource(t)
	ctx := context.Background()
	require.NoError(t, s.PutToken(ctx, "u1", "github", &Token{AccessToken: "gho_1"}))
	require.NoError(t, s.Revoke(ctx, "u1", "github"))

	_, err := s.Token(ctx, "u1", "github")
	requireCode(t, err, schema.ErrCodeAuthRevoked)
}

func TestVaultTokenSource_StoreFailure(t *testing.T) {
	s, store := newSource(t)
	store.fail = errors.New("disk I/O error")

	_, err := s.Token(context.Background(), "u1", "github")
	requireCode(t, err, schema.ErrCodeVault)
}

func TestVaultTokenSource_Providers(t *testing.T) {
	s, _ := newSource(t)
	ctx := context.Background()
	require.NoError(t, s.PutToken(ctx, "u1", "google", &Token{AccessToken: "a"}))
	require.NoError(t, s.PutToken(ctx, "u1", "github", &Token{AccessToken: "b"}))
	require.NoError(t, s.PutToken(ctx, "u2", "spotify", &Token{AccessToken: "c"}))

	providers, err := s.Providers(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"github", "google"}, providers)
}

func TestVaultTokenSource_ConcurrentLookupsShareRead(t *testing.T) {
	s, store := newSource(t)
	ctx := context.Background()
	require.NoError(t, s.PutToken(ctx, "u1", "github", &Token{AccessToken: "gho_1"}))

	store.gate = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Token(ctx, "u1", "github")
			assert.NoError(t, err)
			if tok != nil {
				assert.Equal(t, "gho_1", tok.AccessToken)
			}
		}()
	}

	// Let the callers pile up behind the first read, then release it.
	require.Eventually(t, func() bool { return store.reads.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	assert.Less(t, store.reads.Load(), int32(10))
}
