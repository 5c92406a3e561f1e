package messaging

import (
	"sync"
	"time"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Stamper issues strictly increasing Unix millisecond timestamps, even when
// the wall clock stalls or steps backwards.
type Stamper struct {
	mu    sync.Mutex
	last  int64
	clock TimeProvider
}

// NewStamper returns a stamper reading clock; nil means the system clock.
func NewStamper(clock TimeProvider) *Stamper {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &Stamper{clock: clock}
}

// Next returns max(now, last+1).
func (s *Stamper) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}
