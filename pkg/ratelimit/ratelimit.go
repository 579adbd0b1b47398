// Package ratelimit keeps one token bucket per key (peer address, principal,
// or both) and forgets buckets that have gone idle.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines a rate limiting profile.
type Config struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int `env:"REQUESTS"`
	// Window is the time window for rate limiting
	Window time.Duration `env:"WINDOW"`
	// Burst allows for temporary bursts above the rate limit
	Burst int `env:"BURST"`
}

// Default profiles. Strict guards credential checks per principal and peer
// caps them per peer across all principals. Moderate covers token operations
// and public covers read-only ops endpoints.
var (
	DefaultStrict   = Config{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}
	DefaultPeer     = Config{RequestsPerWindow: 20, Window: time.Minute, Burst: 20}
	DefaultModerate = Config{RequestsPerWindow: 60, Window: time.Minute, Burst: 60}
	DefaultPublic   = Config{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}
)

// Disabled reports whether the profile imposes no limit.
func (c Config) Disabled() bool {
	return c.RequestsPerWindow <= 0 || c.Window <= 0
}

// Limiter hands out per-key limiters for a single profile.
type Limiter struct {
	cfg      Config
	limiters sync.Map // map[string]*rate.Limiter

	mu          sync.Mutex
	lastCleanup time.Time
}

// New returns a Limiter for cfg. A zero burst defaults to RequestsPerWindow.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerWindow
	}
	return &Limiter{cfg: cfg, lastCleanup: time.Now()}
}

// Config returns the profile the limiter enforces.
func (l *Limiter) Config() Config { return l.cfg }

// Allow consumes a token for key. When refused it reports how long until the
// next token, rounded up to a whole second.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.cfg.Disabled() || key == "" {
		return true, 0
	}

	limiter := l.get(key)
	if limiter.Allow() {
		return true, 0
	}

	r := limiter.Reserve()
	delay := r.Delay()
	r.Cancel()

	return false, max(delay.Round(time.Second), time.Second)
}

func (l *Limiter) get(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	perSecond := float64(l.cfg.RequestsPerWindow) / l.cfg.Window.Seconds()
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(perSecond), l.cfg.Burst))

	l.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, at most every five
// minutes.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.cfg.Burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
