package triggers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/pkg/schema"
)

func newPollEvaluator() *PollEvaluator {
	return NewPollEvaluator(PollConfig{}, expressions.NewGoJQEngine(), expressions.NewExprEngine())
}

// jsonServer serves the bodies in order, repeating the last one.
func jsonServer(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		i := int(n.Add(1)) - 1
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bodies[i]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func poll(t *testing.T, e *PollEvaluator, params, state map[string]any) (*Decision, error) {
	t.Helper()
	return e.ShouldFire(context.Background(), Evaluation{AreaID: "a1", Parameters: params, State: state, Now: t0})
}

func TestPoll_FirstPollOnlyRecords(t *testing.T) {
	srv := jsonServer(t, `{"price": 10}`)
	d, err := poll(t, newPollEvaluator(), map[string]any{"url": srv.URL, "select": ".price"}, nil)
	require.NoError(t, err)
	assert.False(t, d.Fire)
	assert.Equal(t, 10.0, d.State["lastValue"])
	assert.Equal(t, "2024-01-01T12:00:00Z", d.State["polledAt"])
}

func TestPoll_FiresOnChange(t *testing.T) {
	srv := jsonServer(t, `{"price": 10}`, `{"price": 10}`, `{"price": 12}`)
	e := newPollEvaluator()
	params := map[string]any{"url": srv.URL, "select": ".price"}

	d, err := poll(t, e, params, nil)
	require.NoError(t, err)
	require.False(t, d.Fire)

	d, err = poll(t, e, params, d.State)
	require.NoError(t, err)
	assert.False(t, d.Fire, "unchanged value")

	d, err = poll(t, e, params, d.State)
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, 12.0, d.Context["value"])
	assert.Equal(t, 10.0, d.Context["previous"])
	assert.Equal(t, 200, d.Context["status_code"])
	assert.Equal(t, srv.URL, d.Context["url"])
	assert.Equal(t, 12.0, d.State["lastValue"])
}

func TestPoll_ObjectValuesCompareStructurally(t *testing.T) {
	srv := jsonServer(t, `{"a": {"x": 1, "y": [1,2]}}`, `{"a": {"y": [1,2], "x": 1}}`)
	e := newPollEvaluator()
	params := map[string]any{"url": srv.URL, "select": ".a"}

	d, err := poll(t, e, params, nil)
	require.NoError(t, err)
	d, err = poll(t, e, params, d.State)
	require.NoError(t, err)
	assert.False(t, d.Fire)
}

func TestPoll_Condition(t *testing.T) {
	srv := jsonServer(t, `{"temp": 25}`)
	e := newPollEvaluator()

	d, err := poll(t, e, map[string]any{"url": srv.URL, "select": ".temp", "condition": "value > 20"},
		map[string]any{"lastValue": 25.0})
	require.NoError(t, err)
	assert.True(t, d.Fire, "condition fires even without change")

	d, err = poll(t, e, map[string]any{"url": srv.URL, "select": ".temp", "condition": "value > previous"},
		map[string]any{"lastValue": 25.0})
	require.NoError(t, err)
	assert.False(t, d.Fire)
}

func TestPoll_InvalidConditionRejectedBeforeFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"temp": 25}`))
	}))
	defer srv.Close()

	for _, condition := range []string{"temperature > 20", `value > 1 ? "hot" : "cold"`} {
		_, err := poll(t, newPollEvaluator(), map[string]any{"url": srv.URL, "select": ".temp", "condition": condition},
			map[string]any{"lastValue": 25.0})
		require.Error(t, err, condition)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidActionConfig), condition)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestPoll_HeadersForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	d, err := poll(t, newPollEvaluator(), map[string]any{
		"url":     srv.URL,
		"select":  "length",
		"headers": map[string]any{"X-Api-Key": "secret"},
	}, map[string]any{"lastValue": 2.0})
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, 3.0, d.Context["value"])
}

func TestPoll_ErrorClassification(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		code   string
	}{
		"5xx":      {status: 503, body: `{}`, code: schema.ErrCodeUpstreamUnavailable},
		"429":      {status: 429, body: `{}`, code: schema.ErrCodeUpstreamUnavailable},
		"404":      {status: 404, body: `{}`, code: schema.ErrCodeExecution},
		"not json": {status: 200, body: `<html>`, code: schema.ErrCodeExecution},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := poll(t, newPollEvaluator(), map[string]any{"url": srv.URL}, nil)
			var areaErr *schema.AreaError
			require.True(t, errors.As(err, &areaErr))
			assert.Equal(t, tc.code, areaErr.Code)
		})
	}
}

func TestPoll_NetworkErrorIsTransient(t *testing.T) {
	srv := jsonServer(t, `{}`)
	url := srv.URL
	srv.Close()

	_, err := poll(t, newPollEvaluator(), map[string]any{"url": url}, map[string]any{"lastValue": 1.0})
	var areaErr *schema.AreaError
	require.True(t, errors.As(err, &areaErr))
	assert.Equal(t, schema.ErrCodeUpstreamUnavailable, areaErr.Code)
	assert.True(t, areaErr.IsTransient())
}

func TestPoll_InvalidSelectIsConfigError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := poll(t, newPollEvaluator(), map[string]any{"url": srv.URL, "select": ".[["}, nil)
	var areaErr *schema.AreaError
	require.True(t, errors.As(err, &areaErr))
	assert.Equal(t, schema.ErrCodeInvalidActionConfig, areaErr.Code)
	assert.Equal(t, int32(0), hits.Load(), "no request with a broken query")
}
