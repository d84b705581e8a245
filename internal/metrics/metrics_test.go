package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveTick(20 * time.Millisecond)
	m.ObserveResult("TIMER_EVERY_X_MINUTES", schema.ExecutionResult{
		Status: schema.ExecutionFailed,
		Fired:  true,
		Reactions: []schema.ReactionOutcome{
			{Name: "TIMER_LOG", Status: schema.ReactionSucceeded, Duration: time.Millisecond},
			{Name: "HTTP_REQUEST", Status: schema.ReactionTimedOut, Duration: time.Second},
			{Name: "HTTP_REQUEST", Status: schema.ReactionSkipped},
		},
	})
	m.ObserveResult("HTTP_POLL", schema.ExecutionResult{
		Status: schema.ExecutionFailed,
		Err:    schema.NewError(schema.ErrCodeUpstreamUnavailable, "down"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.results.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fires.WithLabelValues("TIMER_EVERY_X_MINUTES")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fires.WithLabelValues("HTTP_POLL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reactions.WithLabelValues("HTTP_REQUEST", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reactions.WithLabelValues("HTTP_REQUEST", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluationErrors.WithLabelValues(schema.ErrCodeUpstreamUnavailable)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.reactionDuration))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTick(time.Second)
		m.ObserveResult("X", schema.ExecutionResult{Fired: true})
	})
}
