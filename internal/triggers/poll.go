package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/pkg/schema"
)

// HTTPPoll is the ActionTypeId of the polling trigger.
const HTTPPoll = "HTTP_POLL"

const pollParamsSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"},
    "select": {"type": "string", "description": "jq query applied to the JSON body"},
    "condition": {"type": "string", "description": "expr boolean over value and previous"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

const pollStateSchema = `{
  "type": "object",
  "properties": {
    "lastValue": {},
    "polledAt": {"type": ["string", "null"], "format": "date-time"}
  }
}`

const defaultPollMaxBody = 5 * 1024 * 1024

type pollParams struct {
	URL       string            `json:"url"`
	Select    string            `json:"select"`
	Condition string            `json:"condition"`
	Headers   map[string]string `json:"headers"`
}

// PollConfig configures the HTTP_POLL evaluator.
type PollConfig struct {
	Client      *http.Client
	MaxBodySize int64
	Location    *time.Location
}

// PollEvaluator GETs a JSON endpoint, extracts a value with a jq query and
// fires when the value differs from the previous poll, or when the optional
// condition holds. The first poll only records the value.
type PollEvaluator struct {
	client  *http.Client
	maxBody int64
	loc     *time.Location
	jq      *expressions.GoJQEngine
	expr    *expressions.ExprEngine
}

// NewPollEvaluator creates a PollEvaluator.
func NewPollEvaluator(cfg PollConfig, jq *expressions.GoJQEngine, ex *expressions.ExprEngine) *PollEvaluator {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultPollMaxBody
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &PollEvaluator{
		client:  cfg.Client,
		maxBody: cfg.MaxBodySize,
		loc:     cfg.Location,
		jq:      jq,
		expr:    ex,
	}
}

func (e *PollEvaluator) Name() string { return HTTPPoll }

func (e *PollEvaluator) Schema() Schema {
	return Schema{
		Description:  "Poll a JSON endpoint; fire when the `select`ed value changes or `condition` holds.",
		ParamsSchema: json.RawMessage(pollParamsSchema),
		StateSchema:  json.RawMessage(pollStateSchema),
	}
}

func (e *PollEvaluator) ShouldFire(ctx context.Context, in Evaluation) (*Decision, error) {
	var p pollParams
	if err := decodeParams(HTTPPoll, in.Parameters, &p); err != nil {
		return nil, err
	}
	if p.Select == "" {
		p.Select = "."
	}
	if err := e.jq.Compile(p.Select); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: invalid select: %s", HTTPPoll, errMessage(err)).WithCause(err)
	}
	if p.Condition != "" {
		if err := e.expr.CompileCondition(p.Condition); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
				"%s: invalid condition: %s", HTTPPoll, errMessage(err)).WithCause(err)
		}
	}

	body, status, err := e.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	value, err := e.jq.Query(ctx, p.Select, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"%s: select %q failed: %s", HTTPPoll, p.Select, errMessage(err)).WithCause(err)
	}
	value, err = normalizeJSON(value)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: selected value is not JSON", HTTPPoll).WithCause(err)
	}

	previous, seen := in.State["lastValue"]
	newState := map[string]any{
		"lastValue": value,
		"polledAt":  formatTime(in.Now),
	}
	if !seen {
		return &Decision{Fire: false, State: newState}, nil
	}

	fire, err := e.shouldFire(ctx, p.Condition, value, previous)
	if err != nil {
		return nil, err
	}
	if !fire {
		return &Decision{Fire: false, State: newState}, nil
	}

	fireCtx := timeContext(in.Now, e.loc)
	fireCtx["value"] = value
	fireCtx["previous"] = previous
	fireCtx["url"] = p.URL
	fireCtx["status_code"] = status
	return &Decision{Fire: true, State: newState, Context: fireCtx}, nil
}

func (e *PollEvaluator) shouldFire(ctx context.Context, condition string, value, previous any) (bool, error) {
	if condition == "" {
		return !jsonEqual(value, previous), nil
	}
	fire, err := e.expr.Condition(ctx, condition, value, previous)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: condition %q failed: %s", HTTPPoll, condition, errMessage(err)).WithCause(err)
	}
	return fire, nil
}

// fetch GETs the URL and decodes the JSON body. Network failures, 429 and
// 5xx are transient; other non-2xx statuses are execution errors.
func (e *PollEvaluator) fetch(ctx context.Context, p pollParams) (any, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, 0, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
			"%s: invalid url %q", HTTPPoll, p.URL).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, schema.NewErrorf(schema.ErrCodeUpstreamUnavailable,
			"%s: GET %s failed: %v", HTTPPoll, p.URL, err).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, schema.NewErrorf(schema.ErrCodeUpstreamUnavailable,
			"%s: GET %s returned %d", HTTPPoll, p.URL, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	if resp.StatusCode >= 300 {
		return nil, resp.StatusCode, schema.NewErrorf(schema.ErrCodeExecution,
			"%s: GET %s returned %d", HTTPPoll, p.URL, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, resp.StatusCode, schema.NewErrorf(schema.ErrCodeUpstreamUnavailable,
			"%s: reading body from %s failed", HTTPPoll, p.URL).WithCause(err)
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, resp.StatusCode, schema.NewErrorf(schema.ErrCodeExecution,
			"%s: %s did not return JSON", HTTPPoll, p.URL).WithCause(err)
	}
	return body, resp.StatusCode, nil
}

// normalizeJSON round-trips v through encoding/json so freshly selected
// values compare equal to the copy persisted in state.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

var _ Evaluator = (*PollEvaluator)(nil)
