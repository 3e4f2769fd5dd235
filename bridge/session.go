package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tracker-bridge/metrics"
	"tracker-bridge/midi"
	"tracker-bridge/params"
	"tracker-bridge/state"
)

// ErrSessionClosed is returned when starting a closed session
var ErrSessionClosed = errors.New("bridge: session closed")

// Options configures a Session
type Options struct {
	Transport  midi.Transport
	Connection midi.Options
	Tick       time.Duration // defaults to DefaultTick
	Ticks      TickSource    // overrides Tick, for tests
	Logger     *slog.Logger
}

// Stats is the user-visible health of a session
type Stats struct {
	Connection     midi.Status
	Dropped        uint64
	InboundDropped uint64
	Reconnects     uint64
	Pending        int
}

// Session owns every bridge component for one host instance. All state is
// scoped to the session; nothing is shared between sessions.
type Session struct {
	ID string

	catalog *params.Catalog
	codec   *midi.Codec
	store   *state.Store
	sched   *Scheduler
	recon   *Reconciler
	conn    *midi.ConnectionManager
	metrics *metrics.Metrics
	log     *slog.Logger
	tick    time.Duration
	ticks   TickSource // injected; otherwise created by Start

	mu        sync.RWMutex
	listeners []HostListener
	running   bool
	closed    bool
	cancel    context.CancelFunc
	group     *errgroup.Group

	// Notify UI of updates
	updates chan struct{}
}

// New wires a session. Nothing runs until Start.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("bridge: transport is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	log = log.With("session", id[:8])

	catalog := params.NewCatalog()
	table, err := midi.NewMappingTable(catalog)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	met := metrics.New()
	s := &Session{
		ID:      id,
		catalog: catalog,
		codec:   midi.NewCodec(table),
		store:   state.NewStore(catalog),
		metrics: met,
		log:     log,
		updates: make(chan struct{}, 1),
	}

	connOpts := opts.Connection
	connOpts.Logger = log
	connOpts.Metrics = met
	s.conn = midi.NewConnectionManager(opts.Transport, connOpts)
	s.conn.OnStateChange(func(midi.Status) { s.notifyUpdate() })

	s.sched = NewScheduler(catalog.Len(), s.dispatch, met)
	s.recon = NewReconciler(s.store, s.codec, s, log.With("component", "reconcile"), met)

	s.ticks = opts.Ticks
	s.tick = opts.Tick
	if s.tick <= 0 {
		s.tick = DefaultTick
	}
	return s, nil
}

// Start launches the connection, tick and reconcile loops
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.running {
		return nil
	}

	ticks := s.ticks
	if ticks == nil {
		ticks = NewIntervalTicks(s.tick)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.conn.Run(gctx) })
	g.Go(func() error { return s.sched.Run(gctx, ticks) })
	g.Go(func() error { return s.recon.Run(gctx, s.conn.Inbound()) })

	s.cancel = cancel
	s.group = g
	s.running = true
	s.log.Info("session started")
	return nil
}

// Close disposes the transport, stops the tick and waits for every loop.
// No host callback is delivered once Close has begun.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	// Invalidate transport callbacks before anything else is released
	err := s.conn.Close()
	if cancel != nil {
		cancel()
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	s.log.Info("session closed")
	return err
}

// GetParameterValue answers the host from the store
func (s *Session) GetParameterValue(addr params.Address) float32 {
	return s.store.Read(addr)
}

// SetParameterValue applies a host write. A change is queued for the next
// tick; an unchanged value is a no-op. It reports whether the value changed.
func (s *Session) SetParameterValue(addr params.Address, v float32) bool {
	stored, changed := s.store.Write(addr, v, state.OriginHost)
	if !changed {
		return false
	}
	s.metrics.HostWrites.Inc()
	s.sched.Enqueue(PendingUpdate{Address: addr, Value: stored, Origin: state.OriginHost})
	s.notifyUpdate()
	return true
}

// dispatch sends the value stored now, which may be newer than the value
// that was queued.
func (s *Session) dispatch(u PendingUpdate) {
	v := s.store.Read(u.Address)
	w, ok := s.codec.Encode(u.Address, v)
	if !ok {
		s.metrics.MessagesDropped.WithLabelValues(metrics.DropEncode).Inc()
		return
	}
	s.conn.Send(w.Bytes())
}

// Subscribe registers l for device-originated changes
func (s *Session) Subscribe(l HostListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// ParameterChanged fans a device change out to the host listeners
func (s *Session) ParameterChanged(addr params.Address, v float32) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	ls := make([]HostListener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()

	for _, l := range ls {
		l.ParameterChanged(addr, v)
	}
	s.notifyUpdate()
}

func (s *Session) notifyUpdate() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals (coalesced) whenever values or connection state change
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Reconnect asks the connection manager to rebind
func (s *Session) Reconnect() bool {
	return s.conn.Reconnect()
}

// Stats reports connection state and drop counters
func (s *Session) Stats() Stats {
	return Stats{
		Connection:     s.conn.Status(),
		Dropped:        s.conn.Dropped(),
		InboundDropped: s.conn.InboundDropped(),
		Reconnects:     s.conn.Reconnects(),
		Pending:        s.sched.Pending(),
	}
}

func (s *Session) Catalog() *params.Catalog            { return s.catalog }
func (s *Session) Codec() *midi.Codec                  { return s.codec }
func (s *Session) Store() *state.Store                 { return s.store }
func (s *Session) Scheduler() *Scheduler               { return s.sched }
func (s *Session) Reconciler() *Reconciler             { return s.recon }
func (s *Session) Connection() *midi.ConnectionManager { return s.conn }
func (s *Session) Metrics() *metrics.Metrics           { return s.metrics }
