package bridge

import (
	"context"
	"sync"
	"time"

	"tracker-bridge/metrics"
	"tracker-bridge/params"
	"tracker-bridge/state"
)

// DefaultTick is the nominal dispatch period (about 60 Hz)
const DefaultTick = 16 * time.Millisecond

// PendingUpdate is a host write waiting for the next tick
type PendingUpdate struct {
	Address params.Address
	Value   float32
	Origin  state.Origin
}

// TickSource delivers scheduler ticks. Tests drive it by hand.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicks struct{ t *time.Ticker }

func (i intervalTicks) C() <-chan time.Time { return i.t.C }
func (i intervalTicks) Stop()               { i.t.Stop() }

// NewIntervalTicks returns a wall-clock TickSource
func NewIntervalTicks(d time.Duration) TickSource {
	return intervalTicks{time.NewTicker(d)}
}

// ManualTicks is a TickSource fed by Tick
type ManualTicks struct {
	ch chan time.Time
}

// NewManualTicks creates an unbuffered manual tick source
func NewManualTicks() *ManualTicks {
	return &ManualTicks{ch: make(chan time.Time)}
}

func (m *ManualTicks) C() <-chan time.Time { return m.ch }
func (m *ManualTicks) Stop()               {}

// Tick blocks until the scheduler has taken the tick
func (m *ManualTicks) Tick() {
	m.ch <- time.Now()
}

// Scheduler coalesces host writes so each address produces at most one
// outbound message per tick. Pending slots are indexed by address, so a
// drain walks them in address order.
type Scheduler struct {
	dispatch func(PendingUpdate)
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending []PendingUpdate
	dirty   []bool
	count   int

	// flushMu serializes drains; batch is owned by whoever holds it
	flushMu sync.Mutex
	batch   []PendingUpdate
}

// NewScheduler creates a scheduler for n addresses. dispatch is called once
// per pending address on each tick, outside the scheduler's lock.
func NewScheduler(n int, dispatch func(PendingUpdate), met *metrics.Metrics) *Scheduler {
	if met == nil {
		met = metrics.New()
	}
	return &Scheduler{
		dispatch: dispatch,
		metrics:  met,
		pending:  make([]PendingUpdate, n),
		dirty:    make([]bool, n),
		batch:    make([]PendingUpdate, 0, n),
	}
}

// Enqueue records u, replacing any pending update for the same address.
// Device-origin updates are never queued. It reports whether u was queued.
func (s *Scheduler) Enqueue(u PendingUpdate) bool {
	if u.Origin != state.OriginHost || int(u.Address) >= len(s.pending) {
		return false
	}
	s.mu.Lock()
	if s.dirty[u.Address] {
		s.metrics.CoalescedWrites.Inc()
	} else {
		s.dirty[u.Address] = true
		s.count++
	}
	s.pending[u.Address] = u
	s.mu.Unlock()
	return true
}

// Pending returns how many addresses await dispatch
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Flush drains every pending update in address order and dispatches each
// exactly once. Concurrent calls run one after another; Enqueue is never
// blocked by a dispatch. It returns the number dispatched.
func (s *Scheduler) Flush() int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.count == 0 {
		s.mu.Unlock()
		return 0
	}
	batch := s.batch[:0]
	for i, d := range s.dirty {
		if d {
			batch = append(batch, s.pending[i])
			s.dirty[i] = false
		}
	}
	s.count = 0
	s.batch = batch
	s.mu.Unlock()

	for _, u := range batch {
		s.dispatch(u)
	}
	s.metrics.TicksWithTraffic.Inc()
	return len(batch)
}

// Run flushes on every tick until ctx is done. The tick source is stopped
// on return.
func (s *Scheduler) Run(ctx context.Context, ticks TickSource) error {
	defer ticks.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks.C():
			s.Flush()
		}
	}
}
