package main

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock abstracts the waits in the workflow so tests can advance time
// instead of sleeping. Production code uses realClock.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// clockTimer adapts a Clock to backoff.Timer so retry loops wait on the
// injected clock rather than on a real timer.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

var _ backoff.Timer = (*clockTimer)(nil)

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

// Stop drops the pending channel; Clock.After has nothing to release.
func (t *clockTimer) Stop() {
	t.c = nil
}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
