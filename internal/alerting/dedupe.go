package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims an alert key for a window. Claim reports false while an
// earlier claim for the same key is still live.
type Deduper interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
}

// MemoryDeduper keeps claims in process. Expired claims are swept lazily.
type MemoryDeduper struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{claims: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, until := range d.claims {
		if !now.Before(until) {
			delete(d.claims, k)
		}
	}
	if _, live := d.claims[key]; live {
		return false, nil
	}
	d.claims[key] = now.Add(window)
	return true, nil
}

// RedisDeduper shares claims across replicas with SET NX EX.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
}

func NewRedisDeduper(client redis.Cmdable) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "mortuary:alert:"}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("claim alert %s: %w", key, err)
	}
	return ok, nil
}
