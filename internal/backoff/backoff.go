// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package backoff computes retry delays for the harvest scheduler.
// Implements: prd010-harvester (R4.1);
//
//	docs/ARCHITECTURE § Harvester.
package backoff

import "time"

const (
	// DefaultBase is the first retry delay.
	DefaultBase = 2 * time.Second

	// DefaultMax caps the retry delay.
	DefaultMax = 60 * time.Second
)

// Policy is a capped exponential backoff: Delay doubles each attempt
// starting from Base and never exceeds Max. The zero value is usable and
// falls back to the defaults.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt. Attempts are counted
// from 1: Delay(1) == Base, Delay(2) == 2*Base, and so on up to Max.
// Pure and safe for concurrent use. Attempts below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		// Doubling past the cap cannot come back under it.
		if d >= max || d < 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
