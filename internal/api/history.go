package api

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil || n <= 0:
		return 0, errors.New("invalid limit")
	case n > maxHistoryLimit:
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}
	return n, nil
}

// parseSinceParam accepts an RFC 3339 timestamp, Unix seconds (fractions
// allowed) or a Go duration counted back from now ("90m"). Empty means no
// lower bound.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().Add(-d).UTC(), nil
	}

	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}
