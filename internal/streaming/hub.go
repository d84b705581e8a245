// Package streaming fans out area execution outcomes to live subscribers.
package streaming

import (
	"context"
	"time"

	"github.com/rendis/area/pkg/schema"
)

// Event is published when the scheduler settles one Area within a tick.
type Event struct {
	AreaID string                 `json:"area_id"`
	Action string                 `json:"action"`
	Status schema.ExecutionStatus `json:"status"`
	Result schema.ExecutionResult `json:"result"`
	At     time.Time              `json:"at"`
}

// Filter specifies which events a subscriber wants to receive.
type Filter struct {
	AreaID   string                   `json:"area_id,omitempty"`
	Statuses []schema.ExecutionStatus `json:"statuses,omitempty"`
}

// Hub provides pub/sub for area execution events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
