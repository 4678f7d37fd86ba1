package nasa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond})

	want := []time.Duration{100, 200, 400, 500, 500}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, b.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoffDefaultsAndJitter(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, DefaultBackoffInitial, b.Next())

	j := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0.5})
	for range 20 {
		d := j.Next()
		j.Reset()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestBackoffJitterRespectsMax(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0.1})

	for i := range 50 {
		d := b.Next()
		assert.LessOrEqual(t, d, time.Minute, "attempt %d", i)
		if i >= 10 {
			// Saturated: only the downward half of the jitter remains.
			assert.GreaterOrEqual(t, d, 53*time.Second, "attempt %d", i)
		}
	}
}

func TestBackoffClampsConfig(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 5 * time.Second, Max: time.Second, Jitter: -1})
	assert.Equal(t, 5*time.Second, b.cfg.Max)
	assert.Zero(t, b.cfg.Jitter)
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
}
