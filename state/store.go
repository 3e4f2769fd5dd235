package state

import (
	"math"
	"sync"
	"sync/atomic"

	"tracker-bridge/params"
)

// Origin tags where a write came from
type Origin uint8

const (
	OriginHost Origin = iota
	OriginDevice
)

func (o Origin) String() string {
	if o == OriginDevice {
		return "device"
	}
	return "host"
}

// cell holds one parameter value. Readers load the bits without locking;
// writers serialize on mu so compare-and-store is atomic per address.
type cell struct {
	mu     sync.Mutex
	bits   atomic.Uint32
	origin atomic.Uint32
}

// Store is the single source of truth for parameter values
type Store struct {
	catalog *params.Catalog
	cells   []cell
}

// NewStore creates a store initialized to every parameter's default
func NewStore(catalog *params.Catalog) *Store {
	s := &Store{
		catalog: catalog,
		cells:   make([]cell, catalog.Len()),
	}
	for _, p := range catalog.All() {
		s.cells[p.Address].bits.Store(math.Float32bits(p.Default))
	}
	return s
}

// Catalog returns the parameter table backing the store
func (s *Store) Catalog() *params.Catalog {
	return s.catalog
}

// Read returns the current value at addr, or 0 for an unknown address.
// Safe for the render thread: no locks, no allocation.
func (s *Store) Read(addr params.Address) float32 {
	if int(addr) >= len(s.cells) {
		return 0
	}
	return math.Float32frombits(s.cells[addr].bits.Load())
}

// Value is Read with an explicit found flag
func (s *Store) Value(addr params.Address) (float32, bool) {
	if int(addr) >= len(s.cells) {
		return 0, false
	}
	return math.Float32frombits(s.cells[addr].bits.Load()), true
}

// LastOrigin reports who last changed the value at addr
func (s *Store) LastOrigin(addr params.Address) Origin {
	if int(addr) >= len(s.cells) {
		return OriginHost
	}
	return Origin(s.cells[addr].origin.Load())
}

// Write clamps v to the parameter's range and stores it. It returns the
// stored value and whether it differs from the previous one.
func (s *Store) Write(addr params.Address, v float32, origin Origin) (float32, bool) {
	p, ok := s.catalog.Lookup(addr)
	if !ok {
		return 0, false
	}
	v = p.Clamp(v)
	bits := math.Float32bits(v)

	c := &s.cells[addr]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bits.Load() == bits {
		return v, false
	}
	c.bits.Store(bits)
	c.origin.Store(uint32(origin))
	return v, true
}

// Snapshot is a copy of every parameter value at one instant
type Snapshot map[params.Address]float32

// Snapshot copies all values. Each value is read atomically; the snapshot as
// a whole is not a cross-parameter transaction.
func (s *Store) Snapshot() Snapshot {
	snap := make(Snapshot, len(s.cells))
	for i := range s.cells {
		snap[params.Address(i)] = math.Float32frombits(s.cells[i].bits.Load())
	}
	return snap
}

// Reset restores every parameter to its default, tagged with origin
func (s *Store) Reset(origin Origin) {
	for _, p := range s.catalog.All() {
		s.Write(p.Address, p.Default, origin)
	}
}
