package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps one Redis list per Area so that webhook ingest and the
// scheduler can run in different processes.
type RedisQueue struct {
	client   *redis.Client
	prefix   string
	capacity int
	ttl      time.Duration
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithCapacity bounds the number of pending events per Area.
func WithCapacity(n int) RedisOption {
	return func(q *RedisQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithTTL expires an Area's list when nothing was pushed for d.
func WithTTL(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.ttl = d }
}

// NewRedisQueue creates a RedisQueue. Keys are "<prefix>hooks:<areaID>".
func NewRedisQueue(client *redis.Client, prefix string, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		client:   client,
		prefix:   prefix,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) key(areaID string) string {
	return q.prefix + "hooks:" + areaID
}

// Push appends the event and trims the list to the newest capacity entries.
func (q *RedisQueue) Push(ctx context.Context, areaID string, ev Event) error {
	ev.AreaID = areaID
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := q.key(areaID)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-q.capacity), -1)
	if q.ttl > 0 {
		pipe.Expire(ctx, key, q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push event for area %s: %w", areaID, err)
	}
	return nil
}

// Drain pops up to max events from the head of the Area's list.
func (q *RedisQueue) Drain(ctx context.Context, areaID string, max int) ([]Event, error) {
	if max <= 0 {
		max = q.capacity
	}

	items, err := q.client.LPopCount(ctx, q.key(areaID), max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drain events for area %s: %w", areaID, err)
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			// A corrupt entry is dropped; the rest of the batch is still delivered.
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (q *RedisQueue) Len(ctx context.Context, areaID string) (int, error) {
	n, err := q.client.LLen(ctx, q.key(areaID)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length for area %s: %w", areaID, err)
	}
	return int(n), nil
}

var _ Queue = (*RedisQueue)(nil)
