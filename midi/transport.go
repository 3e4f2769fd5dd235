package midi

import "errors"

var (
	ErrNoDevice    = errors.New("midi: no device available")
	ErrClosed      = errors.New("midi: connection manager closed")
	ErrScanTimeout = errors.New("midi: port scan timed out")
	ErrNotFound    = errors.New("midi: device not found")
)

// DeviceInfo describes one device as seen by enumeration
type DeviceInfo struct {
	Name           string
	HasDestination bool // can receive from us (an output port)
	HasSource      bool // can send to us (an input port)
}

// Port is an open bidirectional connection to one device
type Port interface {
	Send(b []byte) error
	Close() error
}

// Transport is the platform MIDI layer. onReceive and onError may be called
// from any goroutine; onReceive's slice is only valid for the call.
type Transport interface {
	Devices() ([]DeviceInfo, error)
	Open(name string, onReceive func([]byte), onError func(error)) (Port, error)
}
