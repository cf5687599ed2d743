// internal/notification/dedupe.go
package notification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "substitution:notification:"

// Deduper remembers which logical messages were already sent, so a sweep that
// re-processes a posting does not notify twice.
type Deduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewDeduper(client redis.Cmdable, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// Claim reports whether the caller is the first to send key.
func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	if d == nil || d.client == nil || key == "" {
		return true, nil
	}
	return d.client.SetNX(ctx, dedupeKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release forgets key so a later attempt may send it again.
func (d *Deduper) Release(ctx context.Context, key string) error {
	if d == nil || d.client == nil || key == "" {
		return nil
	}
	return d.client.Del(ctx, dedupeKeyPrefix+key).Err()
}
