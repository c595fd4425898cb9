// Package timer provides named, restartable delayed callbacks.
//
// The connection lifecycle drives its two delay phases ("disconnect" after
// a successful read, "reconnect" after the cooldown window) through this
// scheduler instead of tracking raw timer handles.
package timer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler manages delayed callbacks keyed by name. Scheduling an already
// registered name restarts it: the pending timer is cancelled and replaced.
type Scheduler struct {
	mu     sync.Mutex
	log    *logrus.Logger
	seq    uint64
	timers map[string]*pending
}

type pending struct {
	timer *time.Timer
	gen   uint64
}

// New creates an empty scheduler.
func New(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		log:    logger,
		timers: make(map[string]*pending),
	}
}

// Schedule arms fn to run after delay, replacing any pending timer under
// the same name. The registration is removed before fn runs, so fn may
// re-schedule the same name safely.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func()) {
	s.mu.Lock()
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
		s.log.WithField("timer", name).Debug("Restarting timer")
	}
	s.seq++
	gen := s.seq
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(delay, func() { s.fire(name, gen, fn) })
	s.timers[name] = p
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"timer": name,
		"delay": delay,
	}).Debug("Timer scheduled")
}

// fire runs the callback if this generation is still the registered one.
// A timer superseded or cancelled between firing and acquiring the lock
// is a no-op.
func (s *Scheduler) fire(name string, gen uint64, fn func()) {
	s.mu.Lock()
	cur, ok := s.timers[name]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()

	s.log.WithField("timer", name).Debug("Timer fired")
	fn()
}

// Cancel stops a pending timer. Returns true if one was registered.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[name]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.timers, name)
	s.log.WithField("timer", name).Debug("Timer cancelled")
	return true
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, name)
	}
}

// IsActive reports whether a timer is registered and has not fired.
func (s *Scheduler) IsActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}
