package params

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversEveryAddress(t *testing.T) {
	c := NewCatalog()
	require.Equal(t, Count, c.Len())

	names := map[string]bool{}
	for i, p := range c.All() {
		assert.Equal(t, Address(i), p.Address)
		assert.NotEmpty(t, p.Name)
		assert.Less(t, p.Min, p.Max, p.Name)
		assert.Equal(t, p.Default, p.Clamp(p.Default), "default of %s must be in range", p.Name)
		assert.False(t, names[p.Name], "duplicate name %s", p.Name)
		names[p.Name] = true
	}
}

func TestCatalogLayout(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, "track1.volume", c.MustLookup(TrackVolume(0)).Name)
	assert.Equal(t, "track8.pan", c.MustLookup(TrackPan(7)).Name)
	assert.Equal(t, "track3.mute", c.MustLookup(TrackMute(2)).Name)
	assert.Equal(t, "macro6", c.MustLookup(Macro(5)).Name)
	assert.Equal(t, Address(39), Quantize)

	a, ok := c.ByName("reverb")
	require.True(t, ok)
	assert.Equal(t, Reverb, a)

	_, ok = c.Lookup(Address(Count))
	assert.False(t, ok)
}

func TestClamp(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name string
		addr Address
		in   float32
		want float32
	}{
		{"gain above range", TrackVolume(0), 1.7, 1},
		{"gain below range", TrackVolume(0), -0.2, 0},
		{"pan in range", TrackPan(0), -0.25, -0.25},
		{"pan below range", TrackPan(0), -3, -1},
		{"boolean rounds up", Play, 0.6, 1},
		{"boolean rounds down", Play, 0.4, 0},
		{"indexed rounds", Pattern, 4.6, 5},
		{"indexed clamps", Pattern, 500, 127},
		{"length minimum", PatternLength, 0, 1},
		{"tempo keeps fraction", Tempo, 121.5, 121.5},
		{"tempo clamps", Tempo, 20, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.MustLookup(tt.addr).Clamp(tt.in))
		})
	}
}

func TestClampNaNUsesDefault(t *testing.T) {
	p := NewCatalog().MustLookup(Tempo)
	assert.Equal(t, float32(120), p.Clamp(float32(math.NaN())))
}

func TestClampFoldsNegativeZero(t *testing.T) {
	c := NewCatalog()
	negZero := float32(math.Copysign(0, -1))

	for _, addr := range []Address{TrackPan(0), Pattern, Delay} {
		v := c.MustLookup(addr).Clamp(negZero)
		assert.False(t, math.Signbit(float64(v)), "address %d", addr)
	}
	// rounding a small negative index also yields -0
	v := c.MustLookup(Pattern).Clamp(-0.3)
	assert.False(t, math.Signbit(float64(v)))
}
