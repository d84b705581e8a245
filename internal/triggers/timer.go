package triggers

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rendis/area/pkg/schema"
)

// TimerEveryXMinutes is the ActionTypeId of the interval timer.
const TimerEveryXMinutes = "TIMER_EVERY_X_MINUTES"

const timerParamsSchema = `{
  "type": "object",
  "required": ["interval"],
  "properties": {
    "interval": {"type": "number", "exclusiveMinimum": 0, "description": "minutes, fractional allowed"}
  }
}`

const timerStateSchema = `{
  "type": "object",
  "properties": {
    "lastFiredAt": {"type": ["string", "null"], "format": "date-time"}
  }
}`

type timerParams struct {
	Interval float64 `json:"interval"`
}

// TimerEvaluator fires every interval minutes. A timer that never fired
// fires on its first evaluation. The boundary is inclusive: with
// lastFiredAt = T it fires iff now >= T + interval.
type TimerEvaluator struct {
	loc *time.Location
}

// NewTimerEvaluator creates a TimerEvaluator rendering context times in loc
// (UTC when nil).
func NewTimerEvaluator(loc *time.Location) *TimerEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &TimerEvaluator{loc: loc}
}

func (e *TimerEvaluator) Name() string { return TimerEveryXMinutes }

func (e *TimerEvaluator) Schema() Schema {
	return Schema{
		Description:  "Fire every `interval` minutes (sub-minute intervals such as 0.1 are honored).",
		ParamsSchema: json.RawMessage(timerParamsSchema),
		StateSchema:  json.RawMessage(timerStateSchema),
	}
}

func (e *TimerEvaluator) ShouldFire(_ context.Context, in Evaluation) (*Decision, error) {
	var p timerParams
	if err := decodeParams(TimerEveryXMinutes, in.Parameters, &p); err != nil {
		return nil, err
	}
	interval, err := intervalDuration(p.Interval)
	if err != nil {
		return nil, err
	}

	last, err := parseTime(TimerEveryXMinutes, "lastFiredAt", in.State["lastFiredAt"])
	if err != nil {
		return nil, err
	}

	if last != nil && in.Now.Before(last.Add(interval)) {
		return &Decision{Fire: false}, nil
	}

	ctx := timeContext(in.Now, e.loc)
	ctx["interval"] = p.Interval
	return &Decision{
		Fire:    true,
		State:   map[string]any{"lastFiredAt": formatTime(in.Now)},
		Context: ctx,
	}, nil
}

// intervalDuration converts fractional minutes to a duration, rounded to the
// nearest millisecond so that 0.1 is exactly 6s.
func intervalDuration(minutes float64) (time.Duration, error) {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes <= 0 {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: interval must be a positive number of minutes, got %v", TimerEveryXMinutes, minutes)
	}
	ms := math.Round(minutes * float64(time.Minute/time.Millisecond))
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond, nil
}

var _ Evaluator = (*TimerEvaluator)(nil)
