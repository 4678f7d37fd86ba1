package api

import (
	"testing"
	"time"
)

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"500", 500, false},
		{"501", 0, true},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHistoryLimit(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestParseSinceParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-02-01T08:00:00Z", time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), false},
		{"2026-02-01T09:00:00+01:00", time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC), false},
		{"2026-02-01T08:00:00.25Z", time.Date(2026, 2, 1, 8, 0, 0, 250_000_000, time.UTC), false},
		{"1769932800", time.Unix(1769932800, 0).UTC(), false},
		{"1769932800.5", time.Unix(1769932800, 500_000_000).UTC(), false},
		{"-1", time.Time{}, true},
		{"NaN", time.Time{}, true},
		{"+Inf", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseSinceParam(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSinceParam(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSinceParam(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestParseSinceParam_Duration(t *testing.T) {
	before := time.Now().Add(-90 * time.Minute)
	got, err := parseSinceParam("90m")
	after := time.Now().Add(-90 * time.Minute)
	if err != nil {
		t.Fatalf("parseSinceParam(90m) error = %v", err)
	}
	if got.Before(before) || got.After(after) {
		t.Errorf("parseSinceParam(90m) = %v, want between %v and %v", got, before, after)
	}

	if _, err := parseSinceParam("-5m"); err == nil {
		t.Error("negative duration accepted")
	}
}
