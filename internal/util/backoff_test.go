package util

import (
	"testing"
	"time"
)

func TestCalculateExponentialBackoff(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		base     time.Duration
		max      time.Duration
		expected time.Duration
	}{
		{"zero attempt", 0, time.Second, 30 * time.Second, 0},
		{"negative attempt", -1, time.Second, 30 * time.Second, 0},
		{"first attempt", 1, time.Second, 30 * time.Second, time.Second},
		{"second attempt", 2, time.Second, 30 * time.Second, 2 * time.Second},
		{"third attempt", 3, time.Second, 30 * time.Second, 4 * time.Second},
		{"capped at max", 10, time.Second, 30 * time.Second, 30 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateExponentialBackoff(tc.attempt, tc.base, tc.max, 0)
			if got != tc.expected {
				t.Errorf("CalculateExponentialBackoff(%d, %v, %v, 0) = %v, expected %v",
					tc.attempt, tc.base, tc.max, got, tc.expected)
			}
		})
	}
}

func TestCalculateExponentialBackoffJitterStaysNearBase(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	got := CalculateExponentialBackoff(3, base, max, 0.2)
	lower := time.Duration(float64(4*time.Second) * 0.9)
	upper := time.Duration(float64(4*time.Second) * 1.1)
	if got < lower || got > upper {
		t.Errorf("jittered backoff %v outside [%v, %v]", got, lower, upper)
	}
}

func TestCalculateProbeBackoff(t *testing.T) {
	interval := 30 * time.Second

	if got := CalculateProbeBackoff(interval, 0); got != interval {
		t.Errorf("multiplier 0: got %v, expected %v", got, interval)
	}
	if got := CalculateProbeBackoff(interval, 1); got != interval {
		t.Errorf("multiplier 1: got %v, expected %v", got, interval)
	}
	if got := CalculateProbeBackoff(interval, 2); got != 60*time.Second {
		t.Errorf("multiplier 2: got %v, expected %v", got, 60*time.Second)
	}
	// Large multipliers cap at the configured maximum
	if got := CalculateProbeBackoff(interval, 100); got > 5*time.Minute {
		t.Errorf("multiplier 100: got %v, expected capped value", got)
	}
}
