// Package debounce coalesces bursts of per-device updates into a single
// trailing-edge emit.
package debounce

import (
	"sync"
	"time"

	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
)

// DefaultDelay is the window a device has to go quiet before its state is
// emitted.
const DefaultDelay = 400 * time.Millisecond

// Scheduler keeps at most one pending timer per device identity. Scheduling an
// identity that already has a timer cancels and replaces it, so a burst of N
// updates inside the window produces exactly one emit carrying the state as of
// the last update. A burst that never pauses for a full window emits nothing
// until it does pause; that trailing-edge-only policy is intentional and keeps
// chatty devices from flooding the transport.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[model.DeviceID]*time.Timer
	emit    func(model.DeviceID)
	closed  bool
}

// New builds a scheduler calling emit after delay of per-identity quiet.
// A non-positive delay falls back to DefaultDelay.
func New(delay time.Duration, emit func(model.DeviceID)) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		delay:   delay,
		pending: make(map[model.DeviceID]*time.Timer),
		emit:    emit,
	}
}

// Schedule arms (or re-arms) the timer for id. Cancel-and-replace happens under
// one lock so an emit can never observe state older than the merge that
// scheduled it: the emit callback runs after this call returns and reads the
// store at fire time.
func (s *Scheduler) Schedule(id model.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.pending[id]; ok {
		t.Stop()
	}
	s.pending[id] = time.AfterFunc(s.delay, func() {
		s.fire(id)
	})
}

func (s *Scheduler) fire(id model.DeviceID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()
	s.emit(id)
}

// Cancel drops the pending timer for id, if any.
func (s *Scheduler) Cancel(id model.DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[id]; ok {
		t.Stop()
		delete(s.pending, id)
	}
}

// Close abandons every pending timer. Timers already past Stop may still have
// their callback scheduled; the closed flag keeps them from emitting.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}
