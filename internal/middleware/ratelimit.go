package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/convertcredits/backend/internal/handlers"
)

// AccountLimiter keeps one token bucket per account.
type AccountLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[uuid.UUID]*bucket
	ttl     time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAccountLimiter allows perMinute requests per account with the given burst.
func NewAccountLimiter(perMinute, burst int) *AccountLimiter {
	return &AccountLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		buckets: make(map[uuid.UUID]*bucket),
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

func (l *AccountLimiter) Allow(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[id] = b
	}
	b.lastSeen = now
	if len(l.buckets) > 1024 {
		l.evict(now)
	}
	return b.limiter.AllowN(now, 1)
}

func (l *AccountLimiter) evict(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, id)
		}
	}
}

// RateLimit throttles authenticated callers per account. Use after Authenticate.
func RateLimit(l *AccountLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if ok && l != nil && !l.Allow(p.AccountID) {
				w.Header().Set("Retry-After", "1")
				handlers.WriteError(w, http.StatusTooManyRequests, handlers.CodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
