package triggers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/area/internal/expressions"
	"github.com/rendis/area/internal/queue"
	"github.com/rendis/area/pkg/schema"
)

// WebhookReceived is the ActionTypeId of the webhook trigger.
const WebhookReceived = "WEBHOOK_RECEIVED"

const webhookParamsSchema = `{
  "type": "object",
  "properties": {
    "filter": {"type": "string", "description": "CEL boolean over payload, headers, event"},
    "max_batch": {"type": "integer", "minimum": 1}
  }
}`

const webhookStateSchema = `{
  "type": "object",
  "properties": {
    "lastEventAt": {"type": ["string", "null"], "format": "date-time"},
    "lastEventId": {"type": ["string", "null"]},
    "received": {"type": "integer", "minimum": 0}
  }
}`

const defaultWebhookBatch = 100

type webhookParams struct {
	Filter   string `json:"filter"`
	MaxBatch int    `json:"max_batch"`
}

// WebhookEvaluator fires when at least one queued webhook event for the Area
// passes the optional CEL filter. Every drained event is consumed, matching
// or not. The fire context is the last matching event's payload plus
// event_count, headers and the date/time fields.
type WebhookEvaluator struct {
	queue  queue.Queue
	cel    *expressions.CELEngine
	loc    *time.Location
	logger *slog.Logger
}

// NewWebhookEvaluator creates a WebhookEvaluator draining q.
func NewWebhookEvaluator(q queue.Queue, cel *expressions.CELEngine, loc *time.Location, logger *slog.Logger) *WebhookEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookEvaluator{queue: q, cel: cel, loc: loc, logger: logger}
}

func (e *WebhookEvaluator) Name() string { return WebhookReceived }

func (e *WebhookEvaluator) Schema() Schema {
	return Schema{
		Description:  "Fire when a webhook posted to /hooks/{areaID} passes the optional CEL `filter`.",
		ParamsSchema: json.RawMessage(webhookParamsSchema),
		StateSchema:  json.RawMessage(webhookStateSchema),
	}
}

func (e *WebhookEvaluator) ShouldFire(ctx context.Context, in Evaluation) (*Decision, error) {
	var p webhookParams
	if err := decodeParams(WebhookReceived, in.Parameters, &p); err != nil {
		return nil, err
	}
	if p.MaxBatch <= 0 {
		p.MaxBatch = defaultWebhookBatch
	}

	// Compile before draining so a bad filter does not consume events.
	if p.Filter != "" {
		if err := e.cel.Compile(p.Filter); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidActionConfig,
				"%s: invalid filter: %s", WebhookReceived, errMessage(err)).WithCause(err)
		}
	}

	events, err := e.queue.Drain(ctx, in.AreaID, p.MaxBatch)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeUpstreamUnavailable,
			"%s: event queue unavailable", WebhookReceived).WithCause(err)
	}
	if len(events) == 0 {
		return &Decision{Fire: false}, nil
	}

	var matched []queue.Event
	for _, ev := range events {
		ok, err := e.matches(ctx, p.Filter, ev)
		if err != nil {
			e.logger.Debug("webhook filter evaluation failed",
				slog.String("area_id", in.AreaID),
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			matched = append(matched, ev)
		}
	}

	received := toInt(in.State["received"]) + len(events)
	if len(matched) == 0 {
		return &Decision{Fire: false, State: withValue(in.State, "received", received)}, nil
	}

	last := matched[len(matched)-1]
	fireCtx := timeContext(in.Now, e.loc)
	for k, v := range last.Payload {
		fireCtx[k] = v
	}
	fireCtx["payload"] = last.Payload
	fireCtx["headers"] = headerMap(last.Headers)
	fireCtx["event_id"] = last.ID
	fireCtx["received_at"] = last.ReceivedAt.In(e.loc).Format(time.RFC3339)
	fireCtx["event_count"] = len(matched)

	return &Decision{
		Fire: true,
		State: map[string]any{
			"lastEventAt": formatTime(last.ReceivedAt),
			"lastEventId": last.ID,
			"received":    received,
		},
		Context: fireCtx,
	}, nil
}

func (e *WebhookEvaluator) matches(ctx context.Context, filter string, ev queue.Event) (bool, error) {
	if filter == "" {
		return true, nil
	}
	out, err := e.cel.Evaluate(ctx, filter, map[string]any{
		"payload": ev.Payload,
		"headers": headerMap(ev.Headers),
		"event": map[string]any{
			"id":          ev.ID,
			"received_at": ev.ReceivedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return false, err
	}
	return expressions.Truthy(out), nil
}

func headerMap(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func withValue(state map[string]any, key string, val any) map[string]any {
	out := make(map[string]any, len(state)+1)
	for k, v := range state {
		out[k] = v
	}
	out[key] = val
	return out
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func errMessage(err error) string {
	if areaErr, ok := err.(*schema.AreaError); ok {
		return areaErr.Message
	}
	return err.Error()
}

var _ Evaluator = (*WebhookEvaluator)(nil)
