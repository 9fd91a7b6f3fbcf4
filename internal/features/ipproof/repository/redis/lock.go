// Package redis holds the Redis-backed per-record lock used by the
// anchoring worker, and the in-process fallback used without Redis.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ipproof-backend/internal/features/ipproof/repository"
)

const lockPrefix = "ipproof:lock:"

// LockKey is the lock key for a file hash.
func LockKey(fileHash string) string {
	return lockPrefix + fileHash
}

// Deletes the key only while it still holds our token, so an expired lock
// re-acquired by another replica is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisLocker struct {
	client redis.UniversalClient
	owner  string

	mu     sync.Mutex
	tokens map[string]string
}

// NewLocker returns a Locker backed by SET NX with a TTL.
func NewLocker(client redis.UniversalClient) repository.Locker {
	return &redisLocker{
		client: client,
		owner:  uuid.NewString(),
		tokens: make(map[string]string),
	}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := l.owner + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *redisLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLocker returns a process-local Locker.
func NewMemoryLocker() repository.Locker {
	return &memoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *memoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *memoryLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	return nil
}
