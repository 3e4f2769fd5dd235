package theme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type RGB [3]uint8

type Palette struct {
	Name   string
	Colors []RGB
}

// Plasma is the built-in palette, sampled from matplotlib's plasma map
var Plasma = &Palette{
	Name: "plasma",
	Colors: []RGB{
		{13, 8, 135},
		{84, 2, 163},
		{139, 10, 165},
		{185, 50, 137},
		{219, 92, 104},
		{244, 136, 73},
		{254, 188, 43},
		{240, 249, 33},
	},
}

// LoadGPL reads a GIMP palette file
func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := ParseGPL(f)
	if err != nil {
		return nil, fmt.Errorf("palette %s: %w", path, err)
	}
	return p, nil
}

// ParseGPL parses GIMP palette text. Only the first three fields of each
// color row are used.
func ParseGPL(r io.Reader) (*Palette, error) {
	p := &Palette{}
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if name, ok := strings.CutPrefix(line, "Name:"); ok {
			p.Name = strings.TrimSpace(name)
			continue
		}
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "GIMP") || strings.HasPrefix(line, "Columns") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		var c RGB
		valid := true
		for i := range c {
			n, err := strconv.ParseUint(fields[i], 10, 8)
			if err != nil {
				valid = false
				break
			}
			c[i] = uint8(n)
		}
		if valid {
			p.Colors = append(p.Colors, c)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(p.Colors) == 0 {
		return nil, fmt.Errorf("no colors found")
	}
	return p, nil
}

// Lookup returns interpolated color for normalized value 0-1
func (p *Palette) Lookup(norm float64) RGB {
	if norm <= 0 {
		return p.Colors[0]
	}
	if norm >= 1 {
		return p.Colors[len(p.Colors)-1]
	}

	pos := norm * float64(len(p.Colors)-1)
	i := int(pos)
	frac := pos - float64(i)

	c0 := p.Colors[i]
	c1 := p.Colors[i+1]

	return RGB{
		lerp(c0[0], c1[0], frac),
		lerp(c0[1], c1[1], frac),
		lerp(c0[2], c1[2], frac),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a)*(1-t) + float64(b)*t)
}
