// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit paces requests toward upstream sources.
// Implements: prd010-harvester (R4.2);
//
//	docs/ARCHITECTURE § Harvester.
//
// A Limiter enforces a minimum spacing between grants per source key, an
// optional cap on concurrently held permits, or both. Acquire blocks until
// the configured policies are satisfied and is cancellable through the
// context; the returned release function is safe to call on every exit path.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out per-source permits. The zero value is not usable;
// construct with New.
type Limiter struct {
	interval time.Duration
	slots    chan struct{}

	mu   sync.Mutex
	next map[string]time.Time // earliest time the next grant for a key may start
}

// New returns a Limiter enforcing minInterval between grants for the same
// source key and at most maxConcurrent simultaneously held permits.
// A zero minInterval disables spacing; a maxConcurrent of zero or less
// disables the slot cap.
func New(minInterval time.Duration, maxConcurrent int) *Limiter {
	l := &Limiter{
		interval: minInterval,
		next:     make(map[string]time.Time),
	}
	if maxConcurrent > 0 {
		l.slots = make(chan struct{}, maxConcurrent)
	}
	return l
}

// Acquire blocks until a permit for key is available, then returns a release
// function. Callers must invoke release exactly once, typically via defer,
// so slot-capped limiters do not leak capacity. If ctx is cancelled while
// waiting, Acquire returns ctx.Err() and no permit is held.
func (l *Limiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if l.interval > 0 {
		// Reserve the grant slot for this key before sleeping so
		// concurrent acquirers queue up at interval spacing instead of
		// stampeding when the current wait elapses.
		l.mu.Lock()
		now := time.Now()
		at := l.next[key]
		if at.Before(now) {
			at = now
		}
		l.next[key] = at.Add(l.interval)
		l.mu.Unlock()

		if wait := time.Until(at); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				l.releaseSlot()
				return nil, ctx.Err()
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(l.releaseSlot)
	}, nil
}

func (l *Limiter) releaseSlot() {
	if l.slots != nil {
		<-l.slots
	}
}
