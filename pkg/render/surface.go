// Package render turns binning results and raw records into drawable primitives
// and feeds them to a Surface.
package render

import (
	"image/color"
	"sync"
)

// Colours used by the taxi and post layers.
var (
	ColorPickup     = color.RGBA{0, 0, 255, 255}
	ColorDropoff    = color.RGBA{255, 255, 0, 255}
	ColorSingle     = color.RGBA{0, 0, 0, 255}
	ColorPost       = color.RGBA{255, 0, 0, 255}
	ColorPostStroke = color.RGBA{230, 159, 0, 255}
	ColorVector     = color.RGBA{0, 0, 0, 255}
)

// Surface consumes render output. Implementations must not retain the opacity
// buffer beyond the call; it is rewritten in place every frame.
type Surface interface {
	SetPrimitives(layer string, p *Primitives)
	SetBins(layer string, f BinFrame)
	UpdateOpacity(layer string, buf *OpacityBuffer)
}

// Multi fans output out to several surfaces. Surfaces can be added while
// frames are being produced.
type Multi struct {
	mu       sync.RWMutex
	surfaces []Surface
}

// NewMulti returns a fan-out over the given surfaces.
func NewMulti(surfaces ...Surface) *Multi {
	return &Multi{surfaces: surfaces}
}

// Add registers another surface.
func (m *Multi) Add(s Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.surfaces = append(m.surfaces, s)
}

func (m *Multi) each(f func(Surface)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.surfaces {
		f(s)
	}
}

func (m *Multi) SetPrimitives(layer string, p *Primitives) {
	m.each(func(s Surface) { s.SetPrimitives(layer, p) })
}

func (m *Multi) SetBins(layer string, f BinFrame) {
	m.each(func(s Surface) { s.SetBins(layer, f) })
}

func (m *Multi) UpdateOpacity(layer string, buf *OpacityBuffer) {
	m.each(func(s Surface) { s.UpdateOpacity(layer, buf) })
}

// Discard is a Surface that drops everything.
type Discard struct{}

func (Discard) SetPrimitives(string, *Primitives)    {}
func (Discard) SetBins(string, BinFrame)             {}
func (Discard) UpdateOpacity(string, *OpacityBuffer) {}
