package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-bridge/metrics"
	"tracker-bridge/params"
	"tracker-bridge/state"
)

type recorder struct {
	got []PendingUpdate
}

func (r *recorder) dispatch(u PendingUpdate) { r.got = append(r.got, u) }

func TestSchedulerLastWriteWins(t *testing.T) {
	rec := &recorder{}
	met := metrics.New()
	s := NewScheduler(params.Count, rec.dispatch, met)

	for i := 0; i < 100; i++ {
		s.Enqueue(PendingUpdate{Address: params.TrackVolume(0), Value: float32(i) / 100, Origin: state.OriginHost})
	}
	assert.Equal(t, 1, s.Pending())

	assert.Equal(t, 1, s.Flush())
	require.Len(t, rec.got, 1)
	assert.Equal(t, float32(0.99), rec.got[0].Value)
	assert.Equal(t, 99.0, testutil.ToFloat64(met.CoalescedWrites))

	// Nothing left for the next tick
	assert.Equal(t, 0, s.Flush())
	assert.Len(t, rec.got, 1)
}

func TestSchedulerAddressOrder(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(params.Count, rec.dispatch, nil)

	for _, a := range []params.Address{params.Quantize, params.Reverb, params.Play, params.TrackPan(3), params.Pattern} {
		s.Enqueue(PendingUpdate{Address: a, Value: 1, Origin: state.OriginHost})
	}
	require.Equal(t, 5, s.Flush())

	var order []params.Address
	for _, u := range rec.got {
		order = append(order, u.Address)
	}
	assert.Equal(t, []params.Address{params.Play, params.Pattern, params.TrackPan(3), params.Reverb, params.Quantize}, order)
}

func TestSchedulerRejectsDeviceOrigin(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(params.Count, rec.dispatch, nil)

	assert.False(t, s.Enqueue(PendingUpdate{Address: params.Tempo, Value: 130, Origin: state.OriginDevice}))
	assert.False(t, s.Enqueue(PendingUpdate{Address: params.Address(params.Count), Origin: state.OriginHost}))
	assert.Equal(t, 0, s.Flush())
	assert.Empty(t, rec.got)
}

func TestSchedulerEnqueueDoesNotAllocate(t *testing.T) {
	s := NewScheduler(params.Count, func(PendingUpdate) {}, nil)
	u := PendingUpdate{Address: params.Swing, Value: 10, Origin: state.OriginHost}
	allocs := testing.AllocsPerRun(1000, func() { s.Enqueue(u) })
	assert.Zero(t, allocs)
}

func TestSchedulerRunFlushesOnTick(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(params.Count, rec.dispatch, nil)
	ticks := NewManualTicks()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ticks) }()

	s.Enqueue(PendingUpdate{Address: params.Delay, Value: 0.5, Origin: state.OriginHost})
	ticks.Tick()
	ticks.Tick() // returns once the first flush has finished

	require.Len(t, rec.got, 1)
	assert.Equal(t, params.Delay, rec.got[0].Address)

	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerConcurrentFlushDispatchesEachWriteOnce(t *testing.T) {
	const writes = 2000
	addrs := []params.Address{params.TrackVolume(0), params.TrackVolume(1)}

	var mu sync.Mutex
	seen := map[params.Address]map[float32]int{}
	for _, a := range addrs {
		seen[a] = map[float32]int{}
	}
	s := NewScheduler(params.Count, func(u PendingUpdate) {
		mu.Lock()
		seen[u.Address][u.Value]++
		mu.Unlock()
	}, nil)

	var wg sync.WaitGroup
	for _, a := range addrs {
		wg.Add(1)
		go func(a params.Address) {
			defer wg.Done()
			for i := 1; i <= writes; i++ {
				s.Enqueue(PendingUpdate{Address: a, Value: float32(i), Origin: state.OriginHost})
				s.Flush()
			}
		}(a)
	}
	wg.Wait()
	s.Flush()

	for _, a := range addrs {
		for v, n := range seen[a] {
			assert.Equal(t, 1, n, "address %d value %v dispatched %d times", a, v, n)
		}
		assert.Equal(t, 1, seen[a][float32(writes)], "last write for address %d must be dispatched", a)
	}
}
