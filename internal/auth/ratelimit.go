package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter is a token-bucket limiter keyed by client IP, applied before
// credential verification so a brute-force source cannot probe hashes at
// line rate. Idle buckets are dropped after bucketTTL.
type loginLimiter struct {
	mu      sync.Mutex
	buckets map[string]*loginBucket
	limit   rate.Limit
	burst   int
	lastGC  time.Time
}

type loginBucket struct {
	lim *rate.Limiter
	ts  time.Time
}

const (
	bucketTTL        = 10 * time.Minute
	bucketGCInterval = time.Minute
)

func newLoginLimiter(perMinute, burst int) *loginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &loginLimiter{
		buckets: make(map[string]*loginBucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		lastGC:  time.Now(),
	}
}

func (l *loginLimiter) allow(ip string) bool {
	if ip == "" {
		ip = "unknown"
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > bucketGCInterval {
		for k, b := range l.buckets {
			if now.Sub(b.ts) > bucketTTL {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &loginBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.ts = now
	return b.lim.Allow()
}
