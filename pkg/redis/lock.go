package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when the lock is held by someone else
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block other runs
	DefaultLockTTL = 5 * time.Minute
	defaultPrefix  = "fern:lock:"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is a held lock. Only the holder's token can release or extend it.
type Lock struct {
	client *Client
	key    string
	token  string
}

// Key returns the full Redis key of the lock
func (l *Lock) Key() string {
	return l.key
}

// Locker takes SET NX locks under a key prefix
type Locker struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewLocker creates a new Locker. A zero ttl uses DefaultLockTTL.
func NewLocker(client *Client, prefix string, ttl time.Duration) *Locker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Acquire takes the lock for key or returns ErrLockNotAcquired
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", fullKey)

	return &Lock{
		client: l.client,
		key:    fullKey,
		token:  token,
	}, nil
}

// Lock takes the lock for key and returns its release func. The lock's TTL
// is extended every half TTL until release, so runs longer than the TTL keep
// it. It satisfies resolution.RunLocker.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := l.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	stop := lock.keepAlive(context.WithoutCancel(ctx), l.ttl)
	return func(ctx context.Context) error {
		stop()
		return lock.Release(ctx)
	}, nil
}

// keepAlive extends the lock every ttl/2 until the returned func is called
// or the lock is lost.
func (l *Lock) keepAlive(ctx context.Context, ttl time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Extend(ctx, ttl)
				if err == nil || ctx.Err() != nil {
					continue
				}
				l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock: %s", l.key)
				if errors.Is(err, ErrLockNotHeld) {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Release deletes the lock if this holder still owns it
func (l *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	l.client.logger.WithContext(ctx).Debugf("Released lock: %s", l.key)
	return nil
}

// Extend resets the lock's TTL if this holder still owns it
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
