package bridge

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"tracker-bridge/metrics"
	"tracker-bridge/midi"
	"tracker-bridge/params"
	"tracker-bridge/state"
)

// HostListener receives parameter changes that the host did not make
type HostListener interface {
	ParameterChanged(addr params.Address, value float32)
}

// HostListenerFunc adapts a function to HostListener
type HostListenerFunc func(addr params.Address, value float32)

func (f HostListenerFunc) ParameterChanged(addr params.Address, value float32) {
	f(addr, value)
}

// Reconciler applies device-originated events to the store and tells the
// host about real changes. It never queues outbound messages.
type Reconciler struct {
	store   *state.Store
	codec   *midi.Codec
	notify  HostListener
	log     *slog.Logger
	metrics *metrics.Metrics

	ignoredLog rate.Sometimes
}

// NewReconciler creates a reconciler that reports changes to notify
func NewReconciler(store *state.Store, codec *midi.Codec, notify HostListener, log *slog.Logger, met *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:      store,
		codec:      codec,
		notify:     notify,
		log:        log,
		metrics:    met,
		ignoredLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Apply writes ev as a device-origin change. It reports whether the stored
// value changed; unchanged values do not notify the host.
func (r *Reconciler) Apply(ev midi.Event) bool {
	v, changed := r.store.Write(ev.Address, ev.Value, state.OriginDevice)
	if !changed {
		return false
	}
	r.metrics.InboundApplied.Inc()
	if r.notify != nil {
		r.notify.ParameterChanged(ev.Address, v)
	}
	return true
}

// HandleBytes decodes raw device bytes and applies the result. Messages
// that match no parameter are ignored.
func (r *Reconciler) HandleBytes(b []byte) bool {
	ev, ok := r.codec.Decode(b)
	if !ok {
		r.metrics.InboundIgnored.Inc()
		r.ignoredLog.Do(func() {
			r.log.Debug("ignoring unmapped message", "bytes", b)
		})
		return false
	}
	return r.Apply(ev)
}

// Run consumes inbound messages until ctx is done
func (r *Reconciler) Run(ctx context.Context, inbound <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-inbound:
			r.HandleBytes(b)
		}
	}
}
