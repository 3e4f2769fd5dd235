package midi

import (
	"fmt"
	"strings"
	"sync"
)

// Loopback is an in-memory Transport. It records everything sent to it and
// lets the caller inject inbound bytes and failures. Used for tests and for
// running without hardware.
type Loopback struct {
	mu       sync.Mutex
	devices  []DeviceInfo
	sent     [][]byte
	opens    []string
	sendErr  error
	openErr  error
	scanErr  error
	current  *loopPort
	closures int
}

// NewLoopback creates a transport exposing the named bidirectional devices
func NewLoopback(names ...string) *Loopback {
	l := &Loopback{}
	for _, n := range names {
		l.devices = append(l.devices, DeviceInfo{Name: n, HasDestination: true, HasSource: true})
	}
	return l
}

// SetDevices replaces the enumerated devices
func (l *Loopback) SetDevices(devices ...DeviceInfo) {
	l.mu.Lock()
	l.devices = append([]DeviceInfo(nil), devices...)
	l.mu.Unlock()
}

// SetSendError makes every Send fail with err (nil restores)
func (l *Loopback) SetSendError(err error) {
	l.mu.Lock()
	l.sendErr = err
	l.mu.Unlock()
}

// SetOpenError makes every Open fail with err (nil restores)
func (l *Loopback) SetOpenError(err error) {
	l.mu.Lock()
	l.openErr = err
	l.mu.Unlock()
}

// SetScanError makes every Devices call fail with err (nil restores)
func (l *Loopback) SetScanError(err error) {
	l.mu.Lock()
	l.scanErr = err
	l.mu.Unlock()
}

func (l *Loopback) Devices() ([]DeviceInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scanErr != nil {
		return nil, l.scanErr
	}
	return append([]DeviceInfo(nil), l.devices...), nil
}

func (l *Loopback) Open(name string, onReceive func([]byte), onError func(error)) (Port, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return nil, l.openErr
	}
	found := false
	for _, d := range l.devices {
		if strings.EqualFold(d.Name, name) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
	}
	p := &loopPort{l: l, name: name, onReceive: onReceive, onError: onError}
	l.current = p
	l.opens = append(l.opens, name)
	return p, nil
}

// Opens returns the names passed to each successful Open
func (l *Loopback) Opens() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.opens...)
}

// Closes returns how many ports have been closed
func (l *Loopback) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closures
}

// Sent returns a copy of every message sent so far
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

// ResetSent forgets recorded messages
func (l *Loopback) ResetSent() {
	l.mu.Lock()
	l.sent = nil
	l.mu.Unlock()
}

// Inject delivers b as if the device sent it. It reports false when no
// port is open.
func (l *Loopback) Inject(b []byte) bool {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p == nil {
		return false
	}
	p.onReceive(b)
	return true
}

// Fail reports err on the open port's error callback
func (l *Loopback) Fail(err error) bool {
	l.mu.Lock()
	p := l.current
	l.mu.Unlock()
	if p == nil {
		return false
	}
	p.onError(err)
	return true
}

type loopPort struct {
	l         *Loopback
	name      string
	onReceive func([]byte)
	onError   func(error)
}

func (p *loopPort) Send(b []byte) error {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if p.l.sendErr != nil {
		return p.l.sendErr
	}
	p.l.sent = append(p.l.sent, append([]byte(nil), b...))
	return nil
}

func (p *loopPort) Close() error {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if p.l.current == p {
		p.l.current = nil
	}
	p.l.closures++
	return nil
}
