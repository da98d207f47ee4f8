// Package idle detects user inactivity. The host reports every interaction
// with Reset; when no interaction arrives within the period, subscribers are
// notified once. The next countdown starts with the next Reset.
package idle

import (
	"sync"
	"time"

	"github.com/sipeed/halbridge/pkg/logger"
)

const DefaultPeriod = 30 * time.Second

// Timer is the subset of *time.Timer the signal needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive the countdown.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Signal)

func WithClock(c Clock) Option {
	return func(s *Signal) {
		if c != nil {
			s.clock = c
		}
	}
}

// Signal is a resettable inactivity timer. Timers fire on their own
// goroutine, so all state is guarded by mu.
type Signal struct {
	mu        sync.Mutex
	period    time.Duration
	clock     Clock
	timer     Timer
	gen       uint64
	started   bool
	stopped   bool
	lastReset time.Time
	fired     int
	subs      []func()
}

// New creates a signal with the given period; a non-positive period means
// DefaultPeriod. The countdown begins at Start.
func New(period time.Duration, opts ...Option) *Signal {
	if period <= 0 {
		period = DefaultPeriod
	}
	s := &Signal{
		period: period,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signal) Period() time.Duration {
	return s.period
}

// OnIdle subscribes fn to idle notifications. Subscribers run on the timer
// goroutine, outside the signal's lock.
func (s *Signal) OnIdle(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *Signal) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.armLocked()
	logger.DebugCF("idle", "Idle signal started", map[string]interface{}{
		"period_seconds": s.period.Seconds(),
	})
}

// Reset records an interaction and restarts the countdown. Calls before
// Start or after Stop are ignored.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	s.armLocked()
}

// Stop cancels any pending countdown. A stopped signal never fires again.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a countdown is pending.
func (s *Signal) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Signal) LastReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReset
}

// Fired returns how many idle notifications have been broadcast.
func (s *Signal) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Signal) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.lastReset = s.clock.Now()
	s.timer = s.clock.AfterFunc(s.period, func() { s.fire(gen) })
}

func (s *Signal) fire(gen uint64) {
	s.mu.Lock()
	// a Reset or Stop that raced the timer wins
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.fired++
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	idleFor := s.clock.Now().Sub(s.lastReset)
	s.mu.Unlock()

	logger.InfoCF("idle", "Idle period elapsed", map[string]interface{}{
		"idle_seconds": idleFor.Seconds(),
	})
	for _, fn := range subs {
		fn()
	}
}
