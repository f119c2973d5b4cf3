// Package burstguard is a secondary burst limiter sitting in front of the
// gateway's global token-bucket limiter (internal/ratelimit): it absorbs
// short request spikes cheaply via golang.org/x/time/rate before a request
// ever reaches the shared bucket. A Guard holds one limiter shared by every
// request it sees; it does not track clients or connections separately.
package burstguard

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Config tunes the underlying token bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the gateway's default burst ceiling.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 100, Burst: 200}
}

// Guard wraps a rate.Limiter behind a mutex so its config can be reset.
type Guard struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New builds a Guard, substituting defaults for non-positive config fields.
func New(cfg Config) *Guard {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Guard{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a request may proceed, consuming a token if so.
func (g *Guard) Allow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter.Allow()
}

// Reset restores the guard to a freshly-filled bucket at its configured rate.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiter = rate.NewLimiter(rate.Limit(g.config.RequestsPerSecond), g.config.Burst)
}

// Middleware rejects with 429 any request beyond the guard's burst ceiling
// before it reaches RBAC or the shared limiter.
func Middleware(guard *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.Allow() {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
