package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block an Area.
const DefaultTTL = 30 * time.Second

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	return 0
end`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`)

// RedisLocker leases Areas with SET NX PX. The stored value is a token unique
// to each acquisition, so renew and release only ever touch our own lease.
// A held lease is renewed every TTL/3 until released.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. Keys are "<prefix>lease:<areaID>".
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Key returns the Redis key used for areaID.
func (r *RedisLocker) Key(areaID string) string {
	return r.prefix + "lease:" + areaID
}

func (r *RedisLocker) TryAcquire(ctx context.Context, areaID string) (Lease, bool, error) {
	key := r.Key(areaID)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease for area %s: %w", areaID, err)
	}
	if !ok {
		return nil, false, nil
	}

	l := &redisLease{
		locker: r,
		key:    key,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.keepAlive()
	return l, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (l *redisLease) keepAlive() {
	defer close(l.done)

	ticker := time.NewTicker(l.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.locker.ttl/3)
			ok, err := l.renew(ctx)
			cancel()
			if err != nil {
				l.locker.logger.Warn("lease renew failed",
					slog.String("key", l.key),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				l.locker.logger.Warn("lease lost", slog.String("key", l.key))
				return
			}
		}
	}
}

func (l *redisLease) renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release stops renewal and deletes the key if we still own it.
func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if rerr := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Err(); rerr != nil {
			err = fmt.Errorf("release lease %s: %w", l.key, rerr)
		}
	})
	return err
}

var _ Locker = (*RedisLocker)(nil)
