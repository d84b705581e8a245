package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/internal/queue"
	"github.com/rendis/area/pkg/schema"
)

type brokenQueue struct{ queue.Queue }

func (brokenQueue) Drain(context.Context, string, int) ([]queue.Event, error) {
	return nil, errors.New("connection refused")
}

func newWebhookEvaluator(t *testing.T, q queue.Queue) *WebhookEvaluator {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewWebhookEvaluator(q, cel, nil, nil)
}

func push(t *testing.T, q queue.Queue, areaID, id string, payload map[string]any, headers map[string]string) {
	t.Helper()
	require.NoError(t, q.Push(context.Background(), areaID, queue.Event{
		ID:         id,
		Payload:    payload,
		Headers:    headers,
		ReceivedAt: t0,
	}))
}

func TestWebhook_NoEventsNoFire(t *testing.T) {
	e := newWebhookEvaluator(t, queue.NewMemoryQueue(0))
	d, err := e.ShouldFire(context.Background(), Evaluation{AreaID: "a1", Now: t0})
	require.NoError(t, err)
	assert.False(t, d.Fire)
	assert.Nil(t, d.State)
}

func TestWebhook_FiresWithLastEventContext(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	push(t, q, "a1", "e1", map[string]any{"repo": "one"}, nil)
	push(t, q, "a1", "e2", map[string]any{"repo": "two", "stars": 3.0}, map[string]string{"X-Event": "star"})
	push(t, q, "other", "e3", map[string]any{"repo": "three"}, nil)

	e := newWebhookEvaluator(t, q)
	d, err := e.ShouldFire(context.Background(), Evaluation{AreaID: "a1", Now: t0})
	require.NoError(t, err)
	require.True(t, d.Fire)

	assert.Equal(t, "two", d.Context["repo"])
	assert.Equal(t, 3.0, d.Context["stars"])
	assert.Equal(t, 2, d.Context["event_count"])
	assert.Equal(t, "e2", d.Context["event_id"])
	assert.Equal(t, "2024-01-01", d.Context["date"])
	assert.Equal(t, "star", expressions.Interpolate("{{headers.X-Event}}", d.Context))
	assert.Equal(t, "e2", d.State["lastEventId"])
	assert.Equal(t, 2, d.State["received"])

	n, _ := q.Len(context.Background(), "a1")
	assert.Equal(t, 0, n, "events are consumed")
	n, _ = q.Len(context.Background(), "other")
	assert.Equal(t, 1, n)
}

func TestWebhook_Filter(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	push(t, q, "a1", "e1", map[string]any{"action": "opened"}, nil)
	push(t, q, "a1", "e2", map[string]any{"action": "closed"}, nil)

	e := newWebhookEvaluator(t, q)
	d, err := e.ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: map[string]any{"filter": `payload.action == "opened"`},
		Now:        t0,
	})
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, "e1", d.Context["event_id"])
	assert.Equal(t, 1, d.Context["event_count"])
}

func TestWebhook_NothingMatchesStillConsumes(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	push(t, q, "a1", "e1", map[string]any{"action": "closed"}, nil)

	e := newWebhookEvaluator(t, q)
	d, err := e.ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: map[string]any{"filter": `payload.action == "opened"`},
		State:      map[string]any{"received": 4.0},
		Now:        t0,
	})
	require.NoError(t, err)
	assert.False(t, d.Fire)
	assert.Equal(t, 5, d.State["received"])

	n, _ := q.Len(context.Background(), "a1")
	assert.Equal(t, 0, n)
}

func TestWebhook_FilterRuntimeErrorIsNoMatch(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	push(t, q, "a1", "e1", map[string]any{}, nil)

	e := newWebhookEvaluator(t, q)
	d, err := e.ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: map[string]any{"filter": `payload.missing == "x"`},
		Now:        t0,
	})
	require.NoError(t, err)
	assert.False(t, d.Fire)
}

func TestWebhook_InvalidFilterKeepsEvents(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	push(t, q, "a1", "e1", map[string]any{}, nil)

	e := newWebhookEvaluator(t, q)
	_, err := e.ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: map[string]any{"filter": `payload.action ==`},
		Now:        t0,
	})
	var areaErr *schema.AreaError
	require.True(t, errors.As(err, &areaErr))
	assert.Equal(t, schema.ErrCodeInvalidActionConfig, areaErr.Code)

	n, _ := q.Len(context.Background(), "a1")
	assert.Equal(t, 1, n)
}

func TestWebhook_QueueUnavailableIsTransient(t *testing.T) {
	e := newWebhookEvaluator(t, brokenQueue{})
	d, err := e.ShouldFire(context.Background(), Evaluation{AreaID: "a1", Now: t0})
	assert.Nil(t, d)
	var areaErr *schema.AreaError
	require.True(t, errors.As(err, &areaErr))
	assert.Equal(t, schema.ErrCodeUpstreamUnavailable, areaErr.Code)
	assert.True(t, areaErr.IsTransient())
}

func TestWebhook_MaxBatch(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	for _, id := range []string{"e1", "e2", "e3"} {
		push(t, q, "a1", id, map[string]any{"id": id}, nil)
	}

	e := newWebhookEvaluator(t, q)
	d, err := e.ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: map[string]any{"max_batch": 2},
		Now:        t0.Add(time.Second),
	})
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, "e2", d.Context["event_id"])

	n, _ := q.Len(context.Background(), "a1")
	assert.Equal(t, 1, n)
}
