// Package ratelimit implements a fixed-window request counter shared across
// processes through redis, and the gin middleware that enforces it.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Counter increments the hit count for key inside a window that starts at
// the first hit. It returns the new count and the time left in the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter stores windows as expiring redis keys.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter connects to addr.
func NewRedisCounter(addr string) *RedisCounter {
	return &RedisCounter{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping checks the redis connection.
func (r *RedisCounter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the redis connection pool.
func (r *RedisCounter) Close() error {
	return r.client.Close()
}

// Incr reads the count and TTL in one transaction. A key without an expiry
// is either new or lost its EXPIRE, and gets the window applied again.
func (r *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("setting window expiry: %w", err)
		}
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// MemoryCounter keeps windows in process memory. It is only correct for a
// single server process.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
}

type memWindow struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memWindow), now: time.Now}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &memWindow{expires: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.expires.Sub(now), nil
}

// Config configures the middleware.
type Config struct {
	Counter   Counter
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Extractor func(c *gin.Context) string
}

// ClientIdentity is the client address as resolved by gin. Forwarding headers
// are honoured only when the remote address is a trusted proxy.
func ClientIdentity(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware rejects requests over the limit with 429. Counter failures let
// the request through.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Extractor == nil {
		cfg.Extractor = ClientIdentity
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, ttl, err := cfg.Counter.Incr(c.Request.Context(), key, cfg.Window)
		if err != nil {
			c.Next()
			return
		}

		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", reset))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"details": fmt.Sprintf("limit %d per %s, retry after %ds", cfg.Limit, cfg.Window, reset),
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}
