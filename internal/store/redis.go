package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client backing the optional Redis event bus.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects with short timeouts; the event feed is best-effort and
// must not stall the session loop on a slow broker.
func NewRedis(addr string) *Redis {
	return &Redis{Client: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})}
}

// Healthy reports whether the broker answers a ping. A nil receiver is
// healthy by definition, matching the memory-bus deployment.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err() == nil
}
