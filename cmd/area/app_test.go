package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "area.db")
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuntime_SeedThenTickFires(t *testing.T) {
	ctx := context.Background()
	rt, err := openRuntime(ctx, testConfig(t), discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	_, areas, err := seed(ctx, rt.store, rt.validator, defaultSeed())
	require.NoError(t, err)

	results, err := rt.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, schema.ExecutionFired, results[0].Status)

	got, err := rt.store.GetArea(ctx, areas[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecutedAt)
	assert.Nil(t, got.ErrorLog)
	assert.NotEmpty(t, got.Action.State, "timer state persisted")

	// Six seconds have not passed: the next tick is idle.
	results, err = rt.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, schema.ExecutionIdle, results[0].Status)
}

func TestRuntime_RegistersBuiltins(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.VaultPassphrase = "correct horse"
	cfg.VaultSalt = "battery staple"

	rt, err := openRuntime(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	var out bytes.Buffer
	require.NoError(t, printTypes(&out, rt))
	for _, name := range []string{
		"TIMER_EVERY_X_MINUTES", "CRON_SCHEDULE", "HTTP_POLL", "WEBHOOK_RECEIVED",
		"TIMER_LOG", "HTTP_REQUEST", "MCP_TOOL_CALL", "SERVICE_API",
	} {
		assert.Contains(t, out.String(), name)
	}
}

func TestRuntime_WithoutVaultHasNoServiceAPI(t *testing.T) {
	ctx := context.Background()
	rt, err := openRuntime(ctx, testConfig(t), discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	assert.False(t, rt.reactions.Has("SERVICE_API"))
	assert.Nil(t, rt.tokens)
}

func TestRuntime_RedisWiring(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	rt, err := openRuntime(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)
	require.NotNil(t, rt.redis)
	require.NotNil(t, rt.locker)

	_, areas, err := seed(ctx, rt.store, rt.validator, defaultSeed())
	require.NoError(t, err)

	// Another process holds the lease: this one must skip the area.
	mr.Set("area:lease:"+areas[0].ID, "someone-else")
	results, err := rt.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, schema.ExecutionSkipped, results[0].Status)

	mr.Del("area:lease:" + areas[0].ID)
	results, err = rt.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionFired, results[0].Status)
	assert.False(t, mr.Exists("area:lease:"+areas[0].ID), "lease released after the tick")
}

func TestRuntime_WebhookRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt, err := openRuntime(ctx, testConfig(t), discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	f, err := parseSeed(strings.NewReader(`
user: {email: hooks@area.local}
areas:
  - name: hook
    action: {name: WEBHOOK_RECEIVED, parameters: {filter: 'payload.kind == "push"'}}
    reactions: [{name: TIMER_LOG, parameters: {message: "push by {{who}}"}}]
`))
	require.NoError(t, err)
	_, areas, err := seed(ctx, rt.store, rt.validator, f)
	require.NoError(t, err)

	srv, err := rt.newServer()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/hooks/"+areas[0].ID, strings.NewReader(`{"kind":"push","who":"ada"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	results, err := rt.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, schema.ExecutionFired, results[0].Status)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/areas/"+areas[0].ID+"/executions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "fired", history[0]["status"])
}

func TestRuntime_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not-a-url"
	_, err := openRuntime(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

type stubPruner struct {
	before time.Time
	n      int64
	err    error
}

func (p *stubPruner) PruneExecutions(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestPruneOnce(t *testing.T) {
	now := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := &stubPruner{n: 4}
	pruneOnce(context.Background(), p, 24*time.Hour, now, logger)
	assert.Equal(t, now.Add(-24*time.Hour), p.before)
	assert.Contains(t, buf.String(), "rows=4")

	buf.Reset()
	pruneOnce(context.Background(), &stubPruner{err: errors.New("locked")}, time.Hour, now, logger)
	assert.Contains(t, buf.String(), "locked")
}

func TestRuntime_MCPServerExposesTick(t *testing.T) {
	ctx := context.Background()
	rt, err := openRuntime(ctx, testConfig(t), discardLogger())
	require.NoError(t, err)
	defer rt.Close(ctx)

	srv := rt.newMCPServer().MCPServer()
	assert.Len(t, srv.ListTools(), 6)
	assert.NotNil(t, srv.GetTool("area.tick"))
}
