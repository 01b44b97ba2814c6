package decisioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/trustgate/internal/model"
)

// DefaultPrefix namespaces decision keys.
const DefaultPrefix = "trustgate:decision:"

// Redis stores decisions as JSON with a server-side TTL, so several engine
// processes serving the same agent share one cache.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis wraps a go-redis client. Empty prefix uses DefaultPrefix.
func NewRedis(client redis.UniversalClient, prefix string, now func() time.Time) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, prefix: prefix, now: now}
}

func (r *Redis) key(id model.ClientIdentity) string {
	return r.prefix + string(id)
}

func (r *Redis) Get(ctx context.Context, id model.ClientIdentity) (model.Decision, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Decision{}, false, nil
	}
	if err != nil {
		return model.Decision{}, false, fmt.Errorf("decisioncache: get: %w", err)
	}
	var d model.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return model.Decision{}, false, nil
	}
	if d.ExpiresAt != nil && !r.now().Before(*d.ExpiresAt) {
		return model.Decision{}, false, nil
	}
	return d, true, nil
}

func (r *Redis) Put(ctx context.Context, id model.ClientIdentity, d model.Decision, ttl time.Duration) error {
	if !d.Cacheable || ttl <= 0 {
		return nil
	}
	d = stamp(d, r.now(), ttl)
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("decisioncache: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("decisioncache: set: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, id model.ClientIdentity) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("decisioncache: del: %w", err)
	}
	return nil
}

func (r *Redis) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("decisioncache: purge: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("decisioncache: purge: %w", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("decisioncache: purge: %w", err)
		}
	}
	return nil
}

// New returns a Redis cache when client is reachable, otherwise an in-memory one.
func New(ctx context.Context, client redis.UniversalClient, prefix string, now func() time.Time) Cache {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedis(client, prefix, now)
		}
	}
	return NewMemory(now)
}
