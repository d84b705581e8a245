package triggers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

func cronEval(t *testing.T, params, state map[string]any, now time.Time) (*Decision, error) {
	t.Helper()
	return NewCronEvaluator().ShouldFire(context.Background(), Evaluation{
		AreaID:     "a1",
		Parameters: params,
		State:      state,
		Now:        now,
	})
}

func TestCron_FirstTickOnlySchedules(t *testing.T) {
	d, err := cronEval(t, map[string]any{"expression": "*/5 * * * *"}, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Fire)
	assert.Equal(t, "2024-01-01T12:05:00Z", d.State["nextRunAt"])
}

func TestCron_FiresWhenDueAndAdvances(t *testing.T) {
	params := map[string]any{"expression": "*/5 * * * *"}
	state := map[string]any{"nextRunAt": "2024-01-01T12:05:00Z", "expression": "*/5 * * * *"}

	d, err := cronEval(t, params, state, t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Fire)
	assert.Nil(t, d.State)

	d, err = cronEval(t, params, state, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, "2024-01-01T12:10:00Z", d.State["nextRunAt"])
	assert.Equal(t, "2024-01-01T12:05:00Z", d.State["lastFiredAt"])
	assert.Equal(t, "*/5 * * * *", d.State["expression"])
	assert.Equal(t, "2024-01-01T12:05:00Z", d.Context["scheduled_at"])
	assert.Equal(t, "12:05", d.Context["time"])
}

func TestCron_MissedRunsCollapse(t *testing.T) {
	params := map[string]any{"expression": "*/5 * * * *"}
	state := map[string]any{"nextRunAt": "2024-01-01T12:05:00Z", "expression": "*/5 * * * *"}

	d, err := cronEval(t, params, state, t0.Add(time.Hour+time.Minute))
	require.NoError(t, err)
	require.True(t, d.Fire)
	assert.Equal(t, "2024-01-01T13:05:00Z", d.State["nextRunAt"])
}

func TestCron_Timezone(t *testing.T) {
	params := map[string]any{"expression": "0 9 * * *", "timezone": "Europe/Paris"}
	d, err := cronEval(t, params, nil, t0)
	require.NoError(t, err)
	// 09:00 in Paris on 2 Jan 2024 is 08:00 UTC.
	assert.Equal(t, "2024-01-02T08:00:00Z", d.State["nextRunAt"])
	assert.Equal(t, "Europe/Paris", d.State["timezone"])
}

func TestCron_EditedScheduleReschedulesWithoutFiring(t *testing.T) {
	state := map[string]any{
		"nextRunAt":   "2024-01-01T12:05:00Z",
		"lastFiredAt": "2024-01-01T12:00:00Z",
		"expression":  "*/5 * * * *",
	}

	d, err := cronEval(t, map[string]any{"expression": "0 * * * *"}, state, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Fire, "a stale nextRunAt from the old expression does not fire")
	assert.Equal(t, "2024-01-01T13:00:00Z", d.State["nextRunAt"])
	assert.Equal(t, "0 * * * *", d.State["expression"])
	assert.Equal(t, "2024-01-01T12:00:00Z", d.State["lastFiredAt"])

	d, err = cronEval(t, map[string]any{"expression": "*/5 * * * *", "timezone": "Europe/Paris"}, state, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Fire, "a timezone change also reschedules")
	assert.Equal(t, "2024-01-01T12:15:00Z", d.State["nextRunAt"])
}

func TestCron_ExpressionThatNeverMatches(t *testing.T) {
	params := map[string]any{"expression": "0 0 30 2 *"}

	for _, state := range []map[string]any{
		nil,
		{"nextRunAt": "2024-01-01T12:05:00Z", "expression": "0 0 30 2 *"},
	} {
		d, err := cronEval(t, params, state, t0)
		assert.Nil(t, d)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidActionConfig))
		assert.Contains(t, err.Error(), "never matches")
	}
}

func TestCron_Descriptor(t *testing.T) {
	d, err := cronEval(t, map[string]any{"expression": "@hourly"}, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T13:00:00Z", d.State["nextRunAt"])
}

func TestCron_InvalidConfig(t *testing.T) {
	cases := map[string]map[string]any{
		"bad expression": {"expression": "every day"},
		"bad timezone":   {"expression": "* * * * *", "timezone": "Mars/Olympus"},
		"six fields":     {"expression": "0 * * * * *"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := cronEval(t, params, nil, t0)
			var areaErr *schema.AreaError
			require.True(t, errors.As(err, &areaErr))
			assert.Equal(t, schema.ErrCodeInvalidActionConfig, areaErr.Code)
		})
	}
}
