package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-bridge/debug"
	"tracker-bridge/metrics"
	"tracker-bridge/midi"
	"tracker-bridge/params"
	"tracker-bridge/state"
)

func newReconciler(t *testing.T, notify HostListener) (*Reconciler, *state.Store, *metrics.Metrics) {
	t.Helper()
	catalog := params.NewCatalog()
	table, err := midi.NewMappingTable(catalog)
	require.NoError(t, err)
	store := state.NewStore(catalog)
	met := metrics.New()
	return NewReconciler(store, midi.NewCodec(table), notify, debug.Discard(), met), store, met
}

func TestReconcilerApply(t *testing.T) {
	var got []params.Address
	r, store, met := newReconciler(t, HostListenerFunc(func(addr params.Address, v float32) {
		got = append(got, addr)
	}))

	assert.True(t, r.Apply(midi.Event{Address: params.Swing, Value: 75}))
	assert.False(t, r.Apply(midi.Event{Address: params.Swing, Value: 75}), "same value is not a change")
	assert.False(t, r.Apply(midi.Event{Address: params.Address(params.Count), Value: 1}))

	assert.Equal(t, []params.Address{params.Swing}, got)
	assert.Equal(t, float32(75), store.Read(params.Swing))
	assert.Equal(t, state.OriginDevice, store.LastOrigin(params.Swing))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.InboundApplied))
}

func TestReconcilerMuteThreshold(t *testing.T) {
	r, store, _ := newReconciler(t, nil)

	require.True(t, r.HandleBytes([]byte{0xB0, midi.CCTrackMuteBase + 4, 127}))
	assert.Equal(t, float32(1), store.Read(params.TrackMute(4)))

	require.True(t, r.HandleBytes([]byte{0xB0, midi.CCTrackMuteBase + 4, 10}))
	assert.Equal(t, float32(0), store.Read(params.TrackMute(4)))
}

func TestReconcilerIgnoresGarbage(t *testing.T) {
	r, store, met := newReconciler(t, nil)
	before := store.Snapshot()

	for _, b := range [][]byte{nil, {0xF8}, {0x90, 0x80, 1}, {0xB1, midi.CCSwing, 3}} {
		assert.False(t, r.HandleBytes(b))
	}
	assert.Equal(t, before, store.Snapshot())
	assert.Equal(t, 4.0, testutil.ToFloat64(met.InboundIgnored))
}

func TestReconcilerRun(t *testing.T) {
	r, store, _ := newReconciler(t, nil)
	inbound := make(chan []byte, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, inbound) }()

	inbound <- []byte{0xB0, midi.CCDelay, 127}
	require.Eventually(t, func() bool { return store.Read(params.Delay) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
