package nasa

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnect backoff defaults.
const (
	// DefaultBackoffInitial is the first reconnection delay.
	DefaultBackoffInitial = 1 * time.Second

	// DefaultBackoffMax caps the reconnection delay.
	DefaultBackoffMax = 60 * time.Second

	// backoffMultiplier grows the delay after each failed attempt.
	backoffMultiplier = 2.0
)

// BackoffConfig tunes reconnection delays.
type BackoffConfig struct {
	// Initial is the first delay. Default: 1s.
	Initial time.Duration

	// Max caps the delay, jitter included. Default: 60s.
	Max time.Duration

	// Jitter randomises each delay by up to this fraction either way
	// (0 disables, values above 1 are treated as 1).
	Jitter float64
}

// Backoff computes exponential reconnection delays. It never gives up;
// the session decides when to stop reconnecting.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	exp      *backoff.ExponentialBackOff
	attempts int
}

// NewBackoff creates a backoff from cfg, applying defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultBackoffInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultBackoffMax
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Initial
	exp.MaxInterval = cfg.Max
	exp.Multiplier = backoffMultiplier
	exp.RandomizationFactor = cfg.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Backoff{cfg: cfg, exp: exp}
}

// Next returns the delay to wait before the next attempt and advances.
// The result never exceeds the configured Max.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	return min(b.exp.NextBackOff(), b.cfg.Max)
}

// Reset returns to the initial delay. Called after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exp.Reset()
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
