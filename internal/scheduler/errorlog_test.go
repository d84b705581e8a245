package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

func strPtr(s string) *string { return &s }

func TestApplyErrorPolicy(t *testing.T) {
	upstream := schema.NewError(schema.ErrCodeUpstreamUnavailable, "502")
	auth := schema.NewError(schema.ErrCodeAuthRevoked, "token revoked")

	tests := []struct {
		name       string
		area       schema.Area
		failures   []failure
		clear      bool
		wantLog    *string
		wantStreak int
	}{
		{
			name:  "success clears",
			area:  schema.Area{ErrorLog: strPtr("old"), ConsecutiveFailures: 2},
			clear: true,
		},
		{
			name:    "clean evaluation keeps log",
			area:    schema.Area{ErrorLog: strPtr("old"), ConsecutiveFailures: 2},
			wantLog: strPtr("old"),
		},
		{
			name:       "transient below threshold keeps previous log",
			area:       schema.Area{ErrorLog: strPtr("old"), ConsecutiveFailures: 0},
			failures:   []failure{{reactionSource(0, "HTTP_REQUEST"), upstream}},
			clear:      true,
			wantLog:    strPtr("old"),
			wantStreak: 1,
		},
		{
			name:       "transient at threshold is logged",
			area:       schema.Area{ConsecutiveFailures: 2},
			failures:   []failure{{reactionSource(0, "HTTP_REQUEST"), upstream}},
			clear:      true,
			wantLog:    strPtr("reaction[0] HTTP_REQUEST: [UPSTREAM_UNAVAILABLE] 502"),
			wantStreak: 3,
		},
		{
			name:     "non-transient resets streak",
			area:     schema.Area{ConsecutiveFailures: 5},
			failures: []failure{{reactionSource(1, "SERVICE_API"), auth}},
			clear:    true,
			wantLog:  strPtr("reaction[1] SERVICE_API: [AUTH_REVOKED] token revoked"),
		},
		{
			name: "mixed below threshold logs only the permanent failure",
			area: schema.Area{},
			failures: []failure{
				{reactionSource(0, "HTTP_REQUEST"), upstream},
				{reactionSource(1, "SERVICE_API"), auth},
			},
			clear:      true,
			wantLog:    strPtr("reaction[1] SERVICE_API: [AUTH_REVOKED] token revoked"),
			wantStreak: 1,
		},
		{
			name: "mixed at threshold appends both in order",
			area: schema.Area{ConsecutiveFailures: 9},
			failures: []failure{
				{reactionSource(0, "HTTP_REQUEST"), upstream},
				{reactionSource(1, "SERVICE_API"), auth},
			},
			clear: true,
			wantLog: strPtr("reaction[0] HTTP_REQUEST: [UPSTREAM_UNAVAILABLE] 502\n" +
				"reaction[1] SERVICE_API: [AUTH_REVOKED] token revoked"),
			wantStreak: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			area := tt.area
			got := applyErrorPolicy(&area, tt.failures, 3, tt.clear)
			assert.Equal(t, tt.wantStreak, got.streak)
			if tt.wantLog == nil {
				assert.Nil(t, got.errorLog)
				return
			}
			require.NotNil(t, got.errorLog)
			assert.Equal(t, *tt.wantLog, *got.errorLog)
		})
	}
}

func TestFailureSources(t *testing.T) {
	f := failure{source: actionSource("HTTP_POLL"), err: schema.NewError(schema.ErrCodeInvalidActionConfig, "bad url")}
	assert.Equal(t, "action HTTP_POLL: [INVALID_ACTION_CONFIG] bad url", f.String())
}

func TestSameLog(t *testing.T) {
	assert.True(t, sameLog(nil, nil))
	assert.False(t, sameLog(nil, strPtr("")))
	assert.True(t, sameLog(strPtr("a"), strPtr("a")))
	assert.False(t, sameLog(strPtr("a"), strPtr("b")))
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(6 * time.Second)
	assert.Equal(t, start.Add(6*time.Second), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, time.UTC, SystemClock.Now().Location())
}
