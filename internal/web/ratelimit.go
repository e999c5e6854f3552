package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorIdle   = 3 * time.Minute
	sweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	clock     func() time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    time.Now,
	}
}

func (cl *clientLimiter) allow(client string) bool {
	now := cl.clock()

	cl.mu.Lock()
	if now.Sub(cl.lastSweep) > sweepInterval {
		for addr, v := range cl.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(cl.visitors, addr)
			}
		}
		cl.lastSweep = now
	}
	v, ok := cl.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.visitors[client] = v
	}
	v.lastSeen = now
	cl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

func (cl *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.allow(clientAddr(r)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
