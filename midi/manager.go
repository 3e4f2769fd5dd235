package midi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"tracker-bridge/metrics"
)

// State is the connection lifecycle stage
type State int

const (
	Disconnected State = iota
	Searching
	Connected
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Status is the connection state plus the bound device, if any
type Status struct {
	State    State
	Device   string
	Fallback bool // bound without an allow-list match
}

func (s Status) String() string {
	if s.State != Connected {
		return s.State.String()
	}
	if s.Fallback {
		return fmt.Sprintf("connected(%s, fallback)", s.Device)
	}
	return fmt.Sprintf("connected(%s)", s.Device)
}

// Options configures a ConnectionManager. Zero values take defaults.
type Options struct {
	AllowList            []string
	Exclude              []string
	ScanTimeout          time.Duration
	PollInterval         time.Duration
	BackoffMin           time.Duration
	BackoffMax           time.Duration
	InboundQueue         int
	MaxTransportFailures int // consecutive scan/open errors before Disconnected
	Logger               *slog.Logger
	Metrics              *metrics.Metrics
}

// Defaults for Options
var (
	DefaultAllowList = []string{"tracker", "polyend"}
	DefaultExclude   = []string{"midi through", "through port"}
)

func (o *Options) applyDefaults() {
	if o.AllowList == nil {
		o.AllowList = DefaultAllowList
	}
	if o.Exclude == nil {
		o.Exclude = DefaultExclude
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 3 * time.Second // CoreMIDI can hang
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 250 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.InboundQueue <= 0 {
		o.InboundQueue = 256
	}
	if o.MaxTransportFailures <= 0 {
		o.MaxTransportFailures = 5
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
}

// ConnectionManager finds the device, keeps one port open to it and rebinds
// after failures. Inbound bytes are copied onto a bounded queue.
type ConnectionManager struct {
	transport Transport
	opts      Options
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	status   Status
	port     Port
	closed   bool
	onChange func(Status)

	// gen invalidates transport callbacks from an earlier binding
	gen atomic.Uint64

	inbound chan []byte
	wake    chan struct{}

	dropped        atomic.Uint64
	inboundDropped atomic.Uint64
	reconnects     atomic.Uint64

	dropLog rate.Sometimes
}

// NewConnectionManager creates a manager in the Disconnected state
func NewConnectionManager(t Transport, opts Options) *ConnectionManager {
	opts.applyDefaults()
	m := &ConnectionManager{
		transport: t,
		opts:      opts,
		log:       opts.Logger.With("component", "connection"),
		metrics:   opts.Metrics,
		inbound:   make(chan []byte, opts.InboundQueue),
		wake:      make(chan struct{}, 1),
		dropLog:   rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	m.metrics.ConnectionState.Set(float64(Disconnected))
	return m
}

// Inbound returns the queue of raw device messages. It is never closed.
func (m *ConnectionManager) Inbound() <-chan []byte {
	return m.inbound
}

// Status returns the current connection status
func (m *ConnectionManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStateChange registers fn to be called after every status change
func (m *ConnectionManager) OnStateChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Dropped returns how many outbound messages were discarded
func (m *ConnectionManager) Dropped() uint64 {
	return m.dropped.Load()
}

// InboundDropped returns how many inbound messages overflowed the queue
func (m *ConnectionManager) InboundDropped() uint64 {
	return m.inboundDropped.Load()
}

// Reconnects returns how many reconnect cycles have been started
func (m *ConnectionManager) Reconnects() uint64 {
	return m.reconnects.Load()
}

// setStatusLocked must be called with mu held; the returned func publishes
// the change and must be called after unlocking.
func (m *ConnectionManager) setStatusLocked(s Status) func() {
	if m.status == s {
		return func() {}
	}
	m.status = s
	m.metrics.ConnectionState.Set(float64(s.State))
	fn := m.onChange
	return func() {
		m.log.Info("connection state", "state", s.String())
		if fn != nil {
			fn(s)
		}
	}
}

func (m *ConnectionManager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start moves a Disconnected manager to Searching and requests a scan
func (m *ConnectionManager) Start() {
	m.mu.Lock()
	if m.closed || m.status.State != Disconnected {
		m.mu.Unlock()
		return
	}
	publish := m.setStatusLocked(Status{State: Searching})
	m.mu.Unlock()
	publish()
	m.signal()
}

// Reconnect drops the current binding and searches again. It is a no-op
// while already Searching and reports whether a new cycle was started.
func (m *ConnectionManager) Reconnect() bool {
	m.mu.Lock()
	if m.closed || m.status.State == Searching {
		m.mu.Unlock()
		return false
	}
	port := m.port
	m.port = nil
	m.gen.Add(1)
	publish := m.setStatusLocked(Status{State: Searching})
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.metrics.ReconnectAttempts.Inc()
	publish()
	if port != nil {
		go port.Close()
	}
	m.signal()
	return true
}

// fail handles a transport error for binding g. Errors from stale bindings
// and repeated errors from the same binding are ignored.
func (m *ConnectionManager) fail(g uint64, err error) {
	m.mu.Lock()
	if m.closed || m.gen.Load() != g || m.status.State != Connected {
		m.mu.Unlock()
		return
	}
	device := m.status.Device
	port := m.port
	m.port = nil
	m.gen.Add(1)
	publish := m.setStatusLocked(Status{State: Searching})
	m.mu.Unlock()

	m.log.Warn("connection lost", "device", device, "err", err)
	m.reconnects.Add(1)
	m.metrics.ReconnectAttempts.Inc()
	publish()
	// The port may be closed from inside its own listener goroutine
	if port != nil {
		go port.Close()
	}
	m.signal()
}

func (m *ConnectionManager) receive(g uint64, b []byte) {
	if m.gen.Load() != g {
		return
	}
	m.metrics.InboundReceived.Inc()
	msg := make([]byte, len(b))
	copy(msg, b)
	select {
	case m.inbound <- msg:
	default:
		m.inboundDropped.Add(1)
		m.metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
	}
}

// Send writes b to the device. While not connected the message is dropped
// and counted. It never blocks on reconnection.
func (m *ConnectionManager) Send(b []byte) bool {
	m.mu.Lock()
	port := m.port
	g := m.gen.Load()
	m.mu.Unlock()

	if port == nil {
		m.drop(metrics.DropDisconnected, nil)
		return false
	}
	if err := port.Send(b); err != nil {
		m.drop(metrics.DropSendError, err)
		m.fail(g, err)
		return false
	}
	m.metrics.MessagesSent.Inc()
	return true
}

func (m *ConnectionManager) drop(reason string, err error) {
	n := m.dropped.Add(1)
	m.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	m.dropLog.Do(func() {
		m.log.Debug("outbound dropped", "reason", reason, "total", n, "err", err)
	})
}

// scan lists devices, giving up after ScanTimeout
func (m *ConnectionManager) scan() ([]DeviceInfo, error) {
	type result struct {
		devices []DeviceInfo
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := m.transport.Devices()
		ch <- result{d, err}
	}()

	select {
	case r := <-ch:
		return r.devices, r.err
	case <-time.After(m.opts.ScanTimeout):
		return nil, ErrScanTimeout
	}
}

// pick chooses an allow-listed device, or the first usable one as fallback
func (m *ConnectionManager) pick(devices []DeviceInfo) (DeviceInfo, bool, error) {
	var usable []DeviceInfo
	for _, d := range devices {
		if !d.HasDestination || !d.HasSource || containsAny(d.Name, m.opts.Exclude) {
			continue
		}
		usable = append(usable, d)
	}
	for _, pat := range m.opts.AllowList {
		for _, d := range usable {
			if containsCI(d.Name, pat) {
				return d, false, nil
			}
		}
	}
	if len(usable) == 0 {
		return DeviceInfo{}, false, ErrNoDevice
	}
	return usable[0], true, nil
}

// Connect performs one bounded scan and binds a device. It returns nil when
// already connected.
func (m *ConnectionManager) Connect() error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.status.State == Connected:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	devices, err := m.scan()
	if err != nil {
		return err
	}
	dev, fallback, err := m.pick(devices)
	if err != nil {
		return err
	}

	g := m.gen.Add(1)
	port, err := m.transport.Open(dev.Name,
		func(b []byte) { m.receive(g, b) },
		func(err error) { m.fail(g, err) },
	)
	if err != nil {
		return fmt.Errorf("connect %q: %w", dev.Name, err)
	}

	m.mu.Lock()
	if m.closed || m.gen.Load() != g {
		m.mu.Unlock()
		port.Close()
		if m.closed {
			return ErrClosed
		}
		return fmt.Errorf("connect %q: superseded", dev.Name)
	}
	m.port = port
	publish := m.setStatusLocked(Status{State: Connected, Device: dev.Name, Fallback: fallback})
	m.mu.Unlock()

	if fallback {
		m.log.Warn("no allow-listed device, using fallback", "device", dev.Name, "allow", m.opts.AllowList)
	}
	publish()
	return nil
}

// checkPresent fails the binding if its device vanished from enumeration
func (m *ConnectionManager) checkPresent() {
	m.mu.Lock()
	if m.status.State != Connected {
		m.mu.Unlock()
		return
	}
	name := m.status.Device
	g := m.gen.Load()
	m.mu.Unlock()

	devices, err := m.scan()
	if err != nil {
		// A hung scan says nothing about the device
		return
	}
	for _, d := range devices {
		if d.Name == name && d.HasSource && d.HasDestination {
			return
		}
	}
	m.fail(g, fmt.Errorf("%q: %w", name, ErrNotFound))
}

// Run drives discovery and reconnection until ctx is done, then closes the
// manager. Run it in its own goroutine.
func (m *ConnectionManager) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.BackoffMin
	bo.MaxInterval = m.opts.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	poll := time.NewTicker(m.opts.PollInterval)
	defer poll.Stop()

	var retry *time.Timer
	var retryC <-chan time.Time
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
	}
	defer stopRetry()

	failures := 0
	attempt := func() error {
		stopRetry()
		err := m.Connect()
		switch {
		case err == nil:
			bo.Reset()
			failures = 0
		case errors.Is(err, ErrClosed):
			return err
		default:
			if errors.Is(err, ErrNoDevice) {
				// enumeration works again
				failures = 0
				m.Start()
			} else {
				failures++
				if failures == m.opts.MaxTransportFailures {
					m.degrade(err)
				}
			}
			d := bo.NextBackOff()
			m.log.Debug("connect failed, retrying", "err", err, "in", d)
			retry = time.NewTimer(d)
			retryC = retry.C
		}
		return nil
	}

	m.Start()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-m.wake:
			if attempt() != nil {
				return nil
			}
		case <-retryC:
			retry, retryC = nil, nil
			if attempt() != nil {
				return nil
			}
		case <-poll.C:
			m.checkPresent()
		}
	}
}

// degrade moves a Searching manager to Disconnected after the transport
// itself keeps failing. Run still retries, and a later bind reconnects.
func (m *ConnectionManager) degrade(err error) {
	m.mu.Lock()
	if m.closed || m.status.State != Searching {
		m.mu.Unlock()
		return
	}
	publish := m.setStatusLocked(Status{State: Disconnected})
	m.mu.Unlock()

	m.log.Error("transport unavailable", "err", err, "failures", m.opts.MaxTransportFailures)
	publish()
}

// Close releases the port and stops all further callbacks. The manager
// cannot be restarted.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen.Add(1)
	port := m.port
	m.port = nil
	publish := m.setStatusLocked(Status{State: Disconnected})
	m.mu.Unlock()

	publish()
	if port != nil {
		return port.Close()
	}
	return nil
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if containsCI(s, sub) {
			return true
		}
	}
	return false
}
