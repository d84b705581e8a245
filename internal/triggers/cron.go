package triggers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/area/pkg/schema"
)

// CronSchedule is the ActionTypeId of the cron trigger.
const CronSchedule = "CRON_SCHEDULE"

const cronParamsSchema = `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "timezone": {"type": "string"}
  }
}`

const cronStateSchema = `{
  "type": "object",
  "properties": {
    "nextRunAt": {"type": ["string", "null"], "format": "date-time"},
    "lastFiredAt": {"type": ["string", "null"], "format": "date-time"},
    "expression": {"type": "string"},
    "timezone": {"type": "string"}
  }
}`

type cronParams struct {
	Expression string `json:"expression"`
	Timezone   string `json:"timezone"`
}

// CronEvaluator fires on a five-field cron schedule. The first evaluation
// only computes nextRunAt; it fires when now >= nextRunAt and then advances
// nextRunAt past now, so missed runs collapse into a single fire. The state
// remembers the expression and timezone nextRunAt was computed from; editing
// either reschedules without firing.
type CronEvaluator struct {
	parser cron.Parser
}

// NewCronEvaluator creates a CronEvaluator accepting standard five-field
// expressions and descriptors such as @hourly.
func NewCronEvaluator() *CronEvaluator {
	return &CronEvaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (e *CronEvaluator) Name() string { return CronSchedule }

func (e *CronEvaluator) Schema() Schema {
	return Schema{
		Description:  "Fire on a cron schedule (minute hour day-of-month month day-of-week).",
		ParamsSchema: json.RawMessage(cronParamsSchema),
		StateSchema:  json.RawMessage(cronStateSchema),
	}
}

func (e *CronEvaluator) ShouldFire(_ context.Context, in Evaluation) (*Decision, error) {
	var p cronParams
	if err := decodeParams(CronSchedule, in.Parameters, &p); err != nil {
		return nil, err
	}

	loc := time.UTC
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
				"%s: unknown timezone %q", CronSchedule, p.Timezone).WithCause(err)
		}
		loc = l
	}

	sched, err := e.parser.Parse(p.Expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: invalid cron expression %q: %s", CronSchedule, p.Expression, err.Error()).WithCause(err)
	}

	next, err := parseTime(CronSchedule, "nextRunAt", in.State["nextRunAt"])
	if err != nil {
		return nil, err
	}

	now := in.Now.In(loc)
	upcoming, err := nextRun(sched, p.Expression, now)
	if err != nil {
		return nil, err
	}

	if next == nil || !sameSchedule(in.State, p) {
		state := cronState(p, upcoming)
		if last, ok := in.State["lastFiredAt"]; ok && last != nil {
			state["lastFiredAt"] = last
		}
		return &Decision{Fire: false, State: state}, nil
	}

	if now.Before(*next) {
		return &Decision{Fire: false}, nil
	}

	ctx := timeContext(in.Now, loc)
	ctx["scheduled_at"] = next.In(loc).Format(time.RFC3339)
	ctx["expression"] = p.Expression
	state := cronState(p, upcoming)
	state["lastFiredAt"] = formatTime(in.Now)
	return &Decision{
		Fire:    true,
		State:   state,
		Context: ctx,
	}, nil
}

// nextRun returns the first activation after now. robfig/cron reports an
// expression that can never match, such as 30 February, as the zero time.
func nextRun(sched cron.Schedule, expression string, now time.Time) (time.Time, error) {
	t := sched.Next(now)
	if t.IsZero() {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: cron expression %q never matches", CronSchedule, expression)
	}
	return t, nil
}

func sameSchedule(state map[string]any, p cronParams) bool {
	expr, _ := state["expression"].(string)
	tz, _ := state["timezone"].(string)
	return expr == p.Expression && tz == p.Timezone
}

func cronState(p cronParams, next time.Time) map[string]any {
	return map[string]any{
		"nextRunAt":  formatTime(next),
		"expression": p.Expression,
		"timezone":   p.Timezone,
	}
}

var _ Evaluator = (*CronEvaluator)(nil)
