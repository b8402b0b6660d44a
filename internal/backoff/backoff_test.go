// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backoff

import (
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	p := Policy{Base: 10 * time.Second, Max: 160 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{6, 160 * time.Second},
		{100, 160 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayNeverExceedsMax(t *testing.T) {
	p := Policy{Base: 3 * time.Second, Max: 17 * time.Second}
	for attempt := 1; attempt <= 64; attempt++ {
		if got := p.Delay(attempt); got > p.Max {
			t.Fatalf("Delay(%d) = %v exceeds max %v", attempt, got, p.Max)
		}
	}
}

func TestDelayNonDecreasing(t *testing.T) {
	p := Policy{Base: 1 * time.Second, Max: 30 * time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		got := p.Delay(attempt)
		if got < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v", attempt, got, attempt-1, prev)
		}
		prev = got
	}
}

func TestDelayZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	if got := p.Delay(1); got != DefaultBase {
		t.Errorf("Delay(1) = %v, want %v", got, DefaultBase)
	}
	if got := p.Delay(50); got != DefaultMax {
		t.Errorf("Delay(50) = %v, want %v", got, DefaultMax)
	}
}

func TestDelayClampsLowAttempts(t *testing.T) {
	p := Policy{Base: 5 * time.Second, Max: 40 * time.Second}
	if got := p.Delay(0); got != 5*time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, 5*time.Second)
	}
	if got := p.Delay(-3); got != 5*time.Second {
		t.Errorf("Delay(-3) = %v, want %v", got, 5*time.Second)
	}
}
