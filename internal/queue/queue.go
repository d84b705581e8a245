// Package queue buffers inbound webhook events per Area until the
// WEBHOOK_RECEIVED evaluator drains them on the next tick.
package queue

import (
	"context"
	"time"
)

// DefaultCapacity is the number of pending events kept per Area. Older
// events are dropped first when it is exceeded.
const DefaultCapacity = 1000

// Event is one received webhook call.
type Event struct {
	ID         string            `json:"id"`
	AreaID     string            `json:"area_id"`
	Payload    map[string]any    `json:"payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Queue stores pending events keyed by Area ID. Drain removes and returns up
// to max events in arrival order; max <= 0 means all of them.
type Queue interface {
	Push(ctx context.Context, areaID string, ev Event) error
	Drain(ctx context.Context, areaID string, max int) ([]Event, error)
	Len(ctx context.Context, areaID string) (int, error)
}
