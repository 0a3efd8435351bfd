package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/faktor/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker claims payment slots across keeper replicas so they do not all queue
// on the same payment row. A nil Locker grants every claim.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

// NewRedisClient parses a redis:// URL. An empty URL yields a nil client.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func slotKey(payment domain.Address, slot int64) string {
	return fmt.Sprintf("faktor:slot:%s:%d", payment, slot)
}

// TryLock returns a release token when the claim was granted.
func (l *Locker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
