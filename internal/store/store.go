package store

import (
	"context"
	"time"

	"github.com/rendis/area/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Scheduler contract
	ListActiveAreas(ctx context.Context) ([]*schema.Area, error)
	UpdateAreaExecution(ctx context.Context, id string, update AreaExecutionUpdate) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error

	// Areas
	CreateArea(ctx context.Context, area *schema.Area) error
	GetArea(ctx context.Context, id string) (*schema.Area, error)
	ListAreas(ctx context.Context, filter AreaFilter) ([]*schema.Area, error)
	SetAreaActive(ctx context.Context, id string, active bool) error
	UpdateAreaConfig(ctx context.Context, id string, update AreaConfigUpdate) error
	DeleteArea(ctx context.Context, id string) error

	// Execution history (append-only)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
