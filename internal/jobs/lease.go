package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// renewScript pushes the expiry out only while the key still holds our token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// LeaseClient is the subset of the redis client the lease uses.
type LeaseClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLease is a single-holder lock with a TTL so a crashed holder cannot
// block cycles forever. A holder running longer than the TTL must Renew.
type RedisLease struct {
	client LeaseClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLease(client LeaseClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Renew extends the lease by its TTL. It reports false when the lease is not
// held by us any more, either because it expired or another holder took it.
func (l *RedisLease) Renew(ctx context.Context) (bool, error) {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		return false, nil
	}
	n, err := l.client.Eval(ctx, renewScript, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew %s: %w", l.key, err)
	}
	if n != 1 {
		l.mu.Lock()
		if l.token == token {
			l.token = ""
		}
		l.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
