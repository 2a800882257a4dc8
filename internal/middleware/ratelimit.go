package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/pkg/clientip"
)

const (
	// RateLimitKeyPrefix is the Redis key prefix for auth rate limiting
	RateLimitKeyPrefix = "ratelimit:auth:"

	MsgAuthRateLimited = "Too many authentication attempts, please try again later."
)

// Counter increments a fixed-window counter. The window starts with the
// first hit; ttl is the time left in it.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// RedisCounter shares windows across instances.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return n, window, nil
	}
	// A negative TTL means the key has no expiry yet.
	if ttl < 0 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return n, window, err
		}
		ttl = window
	}
	return n, ttl, nil
}

type fixedWindow struct {
	count int64
	start time.Time
}

// MemoryCounter keeps windows in process memory, for single-instance setups.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*fixedWindow
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*fixedWindow), now: time.Now}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) >= window {
		if len(c.windows) > 10000 {
			c.evictLocked(now, window)
		}
		w = &fixedWindow{start: now}
		c.windows[key] = w
	}
	w.count++
	return w.count, window - now.Sub(w.start), nil
}

func (c *MemoryCounter) evictLocked(now time.Time, window time.Duration) {
	for k, w := range c.windows {
		if now.Sub(w.start) >= window {
			delete(c.windows, k)
		}
	}
}

// AuthRateLimit allows limit requests per window for each client IP and path.
// Counter failures let the request through.
type AuthRateLimit struct {
	counter    Counter
	limit      int
	window     time.Duration
	trustProxy bool
	log        *slog.Logger
}

func NewAuthRateLimit(counter Counter, limit int, window time.Duration, trustProxy bool, logger *slog.Logger) *AuthRateLimit {
	return &AuthRateLimit{
		counter:    counter,
		limit:      limit,
		window:     window,
		trustProxy: trustProxy,
		log:        logger,
	}
}

func (l *AuthRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientip.FromRequest(r, l.trustProxy)
		key := RateLimitKeyPrefix + ip + ":" + r.URL.Path

		count, ttl, err := l.counter.Incr(r.Context(), key, l.window)
		if err != nil {
			l.log.WarnContext(r.Context(), "rate limit counter unavailable", slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(ttl)))

		if count > int64(l.limit) {
			l.log.WarnContext(r.Context(), "rate limit exceeded for auth endpoint",
				slog.String("category", "security"),
				slog.String("ip", ip),
				slog.String("endpoint", r.URL.Path),
				slog.String("user_agent", r.UserAgent()))
			w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(ttl)))
			response.Fail(w, http.StatusTooManyRequests, MsgAuthRateLimited, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
