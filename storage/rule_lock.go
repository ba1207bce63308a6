package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LocalRuleLocker serializes callers per rule id within one process
type LocalRuleLocker struct {
	mu    sync.Mutex
	locks map[string]*ruleLock
}

type ruleLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalRuleLocker creates an in-process locker
func NewLocalRuleLocker() *LocalRuleLocker {
	return &LocalRuleLocker{locks: make(map[string]*ruleLock)}
}

// Lock blocks until the rule lock is held or ctx is done
func (l *LocalRuleLocker) Lock(ctx context.Context, ruleID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[ruleID]
	if !ok {
		lk = &ruleLock{ch: make(chan struct{}, 1)}
		l.locks[ruleID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(ruleID, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(ruleID, lk)
		})
	}, nil
}

func (l *LocalRuleLocker) unref(ruleID string, lk *ruleLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, ruleID)
	}
}

// releaseScript deletes the lock key only if we still own it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockNotAcquired is returned when the distributed lock could not be
// taken before the context expired
var ErrLockNotAcquired = errors.New("rule lock not acquired")

// RedisRuleLocker extends the local lock across instances sharing one
// Redis. The key expires after ttl so a crashed holder cannot wedge a rule.
type RedisRuleLocker struct {
	client *redis.Client
	local  *LocalRuleLocker
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.SugaredLogger
}

// NewRedisRuleLocker creates a distributed locker using an existing client
func NewRedisRuleLocker(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisRuleLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisRuleLocker{
		client: client,
		local:  NewLocalRuleLocker(),
		prefix: "watchtower:rule-lock:",
		ttl:    ttl,
		retry:  10 * time.Millisecond,
		logger: logger,
	}
}

// Lock takes the local lock, then polls SETNX until the Redis key is ours
func (r *RedisRuleLocker) Lock(ctx context.Context, ruleID string) (func(), error) {
	releaseLocal, err := r.local.Lock(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	key := r.prefix + ruleID
	token := uuid.New().String()
	backoff := r.retry
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("failed to acquire rule lock %s: %w", ruleID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, ruleID, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be done
			relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.Warnw("Failed to release rule lock", "rule_id", ruleID, "error", err)
			}
			releaseLocal()
		})
	}, nil
}
