package midi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-bridge/metrics"
)

func newTestManager(t *testing.T, lb *Loopback) (*ConnectionManager, *metrics.Metrics) {
	t.Helper()
	met := metrics.New()
	m := NewConnectionManager(lb, Options{
		AllowList:    []string{"tracker"},
		PollInterval: 10 * time.Millisecond,
		BackoffMin:   5 * time.Millisecond,
		BackoffMax:   20 * time.Millisecond,
		InboundQueue: 4,
		Metrics:      met,
	})
	t.Cleanup(func() { m.Close() })
	return m, met
}

func TestConnectPrefersAllowList(t *testing.T) {
	lb := NewLoopback("IAC Driver Bus 1", "Polyend TRACKER MIDI")
	m, _ := newTestManager(t, lb)

	assert.Equal(t, Disconnected, m.Status().State)
	m.Start()
	assert.Equal(t, Searching, m.Status().State)

	require.NoError(t, m.Connect())
	st := m.Status()
	assert.Equal(t, Connected, st.State)
	assert.Equal(t, "Polyend TRACKER MIDI", st.Device)
	assert.False(t, st.Fallback)
}

func TestConnectFallsBackToFirstPair(t *testing.T) {
	lb := NewLoopback()
	lb.SetDevices(
		DeviceInfo{Name: "Midi Through Port-0", HasDestination: true, HasSource: true},
		DeviceInfo{Name: "Output Only", HasDestination: true},
		DeviceInfo{Name: "Generic Synth", HasDestination: true, HasSource: true},
	)
	m, _ := newTestManager(t, lb)

	require.NoError(t, m.Connect())
	st := m.Status()
	assert.Equal(t, "Generic Synth", st.Device)
	assert.True(t, st.Fallback)
}

func TestConnectWithNoDevices(t *testing.T) {
	m, _ := newTestManager(t, NewLoopback())
	m.Start()

	err := m.Connect()
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, Searching, m.Status().State)
}

func TestSendWhileNotConnectedIsDropped(t *testing.T) {
	lb := NewLoopback("tracker")
	m, met := newTestManager(t, lb)

	assert.False(t, m.Send([]byte{0xB0, 7, 100}))
	m.Start()
	assert.False(t, m.Send([]byte{0xB0, 7, 100}))

	assert.Equal(t, uint64(2), m.Dropped())
	assert.Equal(t, 2.0, testutil.ToFloat64(met.MessagesDropped.WithLabelValues(metrics.DropDisconnected)))
	assert.Empty(t, lb.Sent())
}

func TestSendWhenConnected(t *testing.T) {
	lb := NewLoopback("tracker")
	m, met := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	assert.True(t, m.Send([]byte{0xC0, 5}))
	assert.Equal(t, [][]byte{{0xC0, 5}}, lb.Sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(met.MessagesSent))
}

func TestFailureTriggersSingleReconnect(t *testing.T) {
	lb := NewLoopback("tracker")
	m, met := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	boom := errors.New("device unplugged")
	lb.Fail(boom)
	lb.Fail(boom)
	lb.SetSendError(boom)
	m.Send([]byte{0xB0, 7, 1})
	m.Send([]byte{0xB0, 7, 2})

	assert.Equal(t, Searching, m.Status().State)
	assert.Equal(t, uint64(1), m.Reconnects())
	assert.Equal(t, 1.0, testutil.ToFloat64(met.ReconnectAttempts))
	assert.Len(t, m.wake, 1)
}

func TestReconnectIsIdempotentWhileSearching(t *testing.T) {
	lb := NewLoopback("tracker")
	m, _ := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	assert.True(t, m.Reconnect())
	assert.False(t, m.Reconnect())
	assert.False(t, m.Reconnect())
	assert.Equal(t, uint64(1), m.Reconnects())
	assert.Equal(t, Searching, m.Status().State)
}

func TestInboundIsQueuedAndBounded(t *testing.T) {
	lb := NewLoopback("tracker")
	m, _ := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	buf := []byte{0xB0, 20, 1}
	lb.Inject(buf)
	buf[2] = 99 // the manager must have copied

	got := <-m.Inbound()
	assert.Equal(t, []byte{0xB0, 20, 1}, got)

	for i := 0; i < 10; i++ {
		lb.Inject([]byte{0xB0, 20, byte(i)})
	}
	assert.Len(t, m.Inbound(), 4)
	assert.Equal(t, uint64(6), m.InboundDropped())
}

func TestStaleCallbacksIgnored(t *testing.T) {
	lb := NewLoopback("tracker")
	m, _ := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	// Capture the first port's callbacks before rebinding
	lb.mu.Lock()
	old := lb.current
	lb.mu.Unlock()

	m.Reconnect()
	require.NoError(t, m.Connect())

	old.onReceive([]byte{0xB0, 20, 1})
	old.onError(errors.New("late"))

	assert.Empty(t, m.Inbound())
	assert.Equal(t, Connected, m.Status().State)
}

func TestCloseStopsCallbacks(t *testing.T) {
	lb := NewLoopback("tracker")
	m, _ := newTestManager(t, lb)
	require.NoError(t, m.Connect())

	var states []State
	m.OnStateChange(func(s Status) { states = append(states, s.State) })

	require.NoError(t, m.Close())
	assert.Equal(t, Disconnected, m.Status().State)
	assert.Equal(t, []State{Disconnected}, states)

	assert.False(t, lb.Inject([]byte{0xB0, 20, 1}))
	assert.Empty(t, m.Inbound())
	assert.ErrorIs(t, m.Connect(), ErrClosed)
	assert.False(t, m.Reconnect())
}

func TestRunReconnectsAfterUnplug(t *testing.T) {
	lb := NewLoopback("Tracker")
	m, _ := newTestManager(t, lb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Status().State == Connected }, time.Second, time.Millisecond)

	// Device disappears: the poll notices and the manager searches
	lb.SetDevices()
	require.Eventually(t, func() bool { return m.Status().State == Searching }, time.Second, time.Millisecond)

	// Device returns: backoff retries pick it up
	lb.SetDevices(DeviceInfo{Name: "Tracker", HasDestination: true, HasSource: true})
	require.Eventually(t, func() bool { return m.Status().State == Connected }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Tracker", "Tracker"}, lb.Opens())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Disconnected, m.Status().State)
}

func TestPersistentTransportErrorsDegradeToDisconnected(t *testing.T) {
	lb := NewLoopback("Tracker")
	lb.SetScanError(errors.New("midi server gone"))
	met := metrics.New()
	m := NewConnectionManager(lb, Options{
		PollInterval:         10 * time.Millisecond,
		BackoffMin:           time.Millisecond,
		BackoffMax:           2 * time.Millisecond,
		MaxTransportFailures: 3,
		Metrics:              met,
	})
	t.Cleanup(func() { m.Close() })

	var mu sync.Mutex
	var states []State
	m.OnStateChange(func(st Status) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []State{Searching, Disconnected}, states)
	mu.Unlock()
	assert.Equal(t, float64(Disconnected), testutil.ToFloat64(met.ConnectionState))

	// The transport recovers: retries continue and bind the device
	lb.SetScanError(nil)
	require.Eventually(t, func() bool { return m.Status().State == Connected }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNoDeviceKeepsSearching(t *testing.T) {
	lb := NewLoopback()
	m := NewConnectionManager(lb, Options{
		BackoffMin:           time.Millisecond,
		BackoffMax:           time.Millisecond,
		MaxTransportFailures: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Searching, m.Status().State, "an empty device list is not a transport failure")

	cancel()
	require.NoError(t, <-done)
}

func TestScanTimeout(t *testing.T) {
	m := NewConnectionManager(hangingTransport{}, Options{ScanTimeout: 10 * time.Millisecond})
	assert.ErrorIs(t, m.Connect(), ErrScanTimeout)
}

type hangingTransport struct{}

func (hangingTransport) Devices() ([]DeviceInfo, error) {
	time.Sleep(time.Second)
	return nil, nil
}

func (hangingTransport) Open(string, func([]byte), func(error)) (Port, error) {
	return nil, ErrNotFound
}
