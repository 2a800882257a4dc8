package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/identity-backend/internal/response"
	"github.com/AnshRaj112/identity-backend/pkg/clientip"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerXXSSProtection          = "X-XSS-Protection"
	headerReferrerPolicy          = "Referrer-Policy"
	headerContentSecurityPolicy   = "Content-Security-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"

	// MaxRequestBytes bounds request bodies, uploads included.
	MaxRequestBytes = 10<<20 + 1<<20
)

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Del("X-Powered-By")
			h.Set(headerXContentTypeOptions, "nosniff")
			h.Set(headerXFrameOptions, "DENY")
			h.Set(headerXXSSProtection, "1; mode=block")
			h.Set(headerReferrerPolicy, "strict-origin-when-cross-origin")
			if production {
				h.Set(headerContentSecurityPolicy, "default-src 'self'")
				h.Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HostCheck returns 403 when r.Host does not match allowedHost (e.g. api.example.com).
// allowedHost should be the bare hostname without scheme or port.
func HostCheck(allowedHost string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedHost == "" {
				next.ServeHTTP(w, r)
				return
			}
			reqHost := r.Host
			if host, _, err := net.SplitHostPort(reqHost); err == nil {
				reqHost = host
			}
			if !strings.EqualFold(strings.TrimSpace(reqHost), strings.TrimSpace(allowedHost)) {
				response.Fail(w, http.StatusForbidden, "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimit rejects bodies declared larger than limit and caps the
// rest with http.MaxBytesReader.
func RequestSizeLimit(limit int64, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				logger.WarnContext(r.Context(), "request size limit exceeded",
					slog.String("category", "security"),
					slog.Int64("content_length", r.ContentLength),
					slog.Int64("max_size", limit))
				response.Fail(w, http.StatusRequestEntityTooLarge, "Request entity too large", nil)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	ipRateLimitRPS   = 1
	ipRateLimitBurst = 10
	ipCleanupEvery   = 5 * time.Minute
	ipLimiterTTL     = 30 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// IPRateLimiter is a per-IP token bucket kept in process memory.
type IPRateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*limiterEntry
	limit      rate.Limit
	burst      int
	trustProxy bool
	now        func() time.Time
}

// NewIPRateLimiter limits each IP to rps requests per second with the given burst.
func NewIPRateLimiter(rps float64, burst int, trustProxy bool) *IPRateLimiter {
	return &IPRateLimiter{
		entries:    make(map[string]*limiterEntry),
		limit:      rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = l.now()
	return e.limiter
}

// Cleanup drops limiters idle for longer than ttl.
func (l *IPRateLimiter) Cleanup(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, e := range l.entries {
		if now.Sub(e.lastUse) > ttl {
			delete(l.entries, ip)
		}
	}
}

// Run evicts idle limiters until ctx ends.
func (l *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(ipCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(ipLimiterTTL)
		}
	}
}

// Handler returns 429 when the caller's bucket is empty.
func (l *IPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientip.FromRequest(r, l.trustProxy)
		if !l.get(ip).Allow() {
			response.Fail(w, http.StatusTooManyRequests, "Too many requests. Please slow down.", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProductionSecurity returns middlewares for production: HostCheck → per-IP rate limit.
func ProductionSecurity(allowedHost string, limiter *IPRateLimiter) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HostCheck(allowedHost),
		limiter.Handler,
	}
}

// DefaultIPRateLimiter is the production limit of 1 req/s, burst 10.
func DefaultIPRateLimiter(trustProxy bool) *IPRateLimiter {
	return NewIPRateLimiter(ipRateLimitRPS, ipRateLimitBurst, trustProxy)
}
