package midi

import (
	"fmt"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// RtMIDI is the Transport backed by the registered gomidi driver
type RtMIDI struct{}

// NewRtMIDI returns the system MIDI transport
func NewRtMIDI() *RtMIDI {
	return &RtMIDI{}
}

// Devices pairs input and output ports by name
func (RtMIDI) Devices() ([]DeviceInfo, error) {
	ins := gomidi.GetInPorts()
	outs := gomidi.GetOutPorts()

	var order []string
	byName := make(map[string]*DeviceInfo)
	get := func(name string) *DeviceInfo {
		if d, ok := byName[name]; ok {
			return d
		}
		order = append(order, name)
		d := &DeviceInfo{Name: name}
		byName[name] = d
		return d
	}

	for _, out := range outs {
		get(out.String()).HasDestination = true
	}
	for _, in := range ins {
		get(in.String()).HasSource = true
	}

	devices := make([]DeviceInfo, 0, len(order))
	for _, name := range order {
		devices = append(devices, *byName[name])
	}
	return devices, nil
}

// Open connects to the input and output ports named name
func (RtMIDI) Open(name string, onReceive func([]byte), onError func(error)) (Port, error) {
	var inPort drivers.In
	for _, p := range gomidi.GetInPorts() {
		if strings.EqualFold(p.String(), name) {
			inPort = p
			break
		}
	}
	var outPort drivers.Out
	for _, p := range gomidi.GetOutPorts() {
		if strings.EqualFold(p.String(), name) {
			outPort = p
			break
		}
	}
	if inPort == nil || outPort == nil {
		return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
	}

	send, err := gomidi.SendTo(outPort)
	if err != nil {
		return nil, fmt.Errorf("open output %q: %w", name, err)
	}

	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		onReceive(msg.Bytes())
	}, gomidi.HandleError(onError))
	if err != nil {
		outPort.Close()
		return nil, fmt.Errorf("open input %q: %w", name, err)
	}

	return &rtPort{
		name:    name,
		inPort:  inPort,
		outPort: outPort,
		send:    send,
		stop:    stop,
	}, nil
}

type rtPort struct {
	name    string
	inPort  drivers.In
	outPort drivers.Out
	send    func(msg gomidi.Message) error

	mu     sync.Mutex
	stop   func()
	closed bool
}

func (p *rtPort) Send(b []byte) error {
	return p.send(gomidi.Message(b))
}

func (p *rtPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.stop != nil {
		p.stop()
	}
	inErr := p.inPort.Close()
	outErr := p.outPort.Close()
	if inErr != nil {
		return inErr
	}
	return outErr
}
