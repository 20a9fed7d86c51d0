package platform

import "time"

// SystemClock is the real-time Clock implementation, wrapping time.Now
// and time.NewTimer behind the Clock/Timer facade (§6).
type SystemClock struct{}

// NewSystemClock returns a Clock backed by the real wall clock.
func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) Chan() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool             { return s.t.Stop() }
