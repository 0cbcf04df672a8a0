/*
Package limiter provides rate limiting keyed by an arbitrary string, such as a client IP address
or a username.

It utilizes the Token Bucket algorithm (rate.Limiter) per key and runs a cleanup goroutine that
periodically removes idle limiters until its context is cancelled, preventing memory leaks.
*/
package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/resp"
)

// cleanupInterval is how often idle limiters are evicted.
const cleanupInterval = 3 * time.Minute

// KeyedRateLimiter holds one token bucket per key.
type KeyedRateLimiter struct {
	// mu is used to protect concurrent access to the limits map.
	mu sync.RWMutex

	// limits stores the map from key to the *rate.Limiter instance.
	limits map[string]*rate.Limiter

	// r is the rate (rate.Limit) of the limiter, defining the number of events allowed per second.
	r rate.Limit

	// b is the burst size (token bucket size) of the limiter, defining the maximum burst of events allowed.
	b int
}

// NewKeyedRateLimiter creates a KeyedRateLimiter with rate r and burst b. Its cleanup goroutine
// stops when ctx is done.
func NewKeyedRateLimiter(ctx context.Context, r rate.Limit, b int) *KeyedRateLimiter {
	k := &KeyedRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go k.cleanUpIdle(ctx)

	return k
}

// GetLimiter retrieves the rate limiter of key, creating it on first use.
// It uses a Double-Checked Locking pattern to ensure concurrent-safe creation of new limiters.
func (k *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	k.mu.RLock()
	limiter, exists := k.limits[key]
	k.mu.RUnlock()

	if !exists {
		k.mu.Lock()
		limiter, exists = k.limits[key]
		if !exists {
			limiter = rate.NewLimiter(k.r, k.b)
			k.limits[key] = limiter
		}
		k.mu.Unlock()
	}

	return limiter
}

// Allow reports whether one more event for key is allowed now.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.GetLimiter(key).Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedRateLimiter) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.limits)
}

// cleanUpIdle periodically evicts limiters whose bucket is full again.
func (k *KeyedRateLimiter) cleanUpIdle(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, remaining := k.evictIdle(time.Now())
			logx.Info("Rate limiter cleanup finished.", "removed", removed, "remaining", remaining)
		}
	}
}

// evictIdle removes every limiter whose bucket is full at now.
func (k *KeyedRateLimiter) evictIdle(now time.Time) (removed, remaining int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, limiter := range k.limits {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(k.limits, key)
			removed++
		}
	}
	return removed, len(k.limits)
}

// Middleware returns an HTTP middleware that limits requests per client IP.
// If a request exceeds the limit, it responds with a 429 Too Many Requests error.
func (k *KeyedRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !k.Allow(ip) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
