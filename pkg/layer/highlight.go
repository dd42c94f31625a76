package layer

import (
	"slices"
	"time"

	"github.com/sudorandom/geoanim/pkg/binning"
)

// PointerKind is the type of a pointer event.
type PointerKind int

const (
	PointerOver PointerKind = iota
	PointerOut
	PointerDown
	PointerClick
	PointerPan
)

// PointerEvent is a mouse interaction with the map.
type PointerEvent struct {
	Kind PointerKind
	// Index is the primitive under the pointer for over and out events.
	Index int
	// Top is set when the primitive is the top-most under the pointer.
	Top bool
	// Visible reports whether the hovered primitive is drawn, or for clicks,
	// whether the layer is visible at all.
	Visible bool
	// Delta is the pan offset in pixels.
	Delta binning.Point
	At    time.Time
}

// Highlight tracks hovered and selected points. It is a value: Handle returns a
// new state and never modifies the receiver.
type Highlight struct {
	Top   []int
	Other []int
	// Current is the highlighted primitive, or -1.
	Current int
	// Pinned is set when a click fixed Current in place.
	Pinned   bool
	LastDown time.Time
	LastPan  time.Time
}

// NewHighlight returns an empty state.
func NewHighlight() Highlight {
	return Highlight{Current: -1}
}

// First returns the primitive that should be highlighted: the first top-most
// hovered point, else the first other hovered point, else -1.
func (h Highlight) First() int {
	if len(h.Top) > 0 {
		return h.Top[0]
	}
	if len(h.Other) > 0 {
		return h.Other[0]
	}
	return -1
}

// Handle applies one pointer event.
func (h Highlight) Handle(ev PointerEvent) Highlight {
	switch ev.Kind {
	case PointerOver, PointerOut:
		over := ev.Kind == PointerOver && ev.Visible
		top, other := h.Top, h.Other
		if !over || !ev.Top {
			top = without(top, ev.Index)
		}
		if !over || ev.Top {
			other = without(other, ev.Index)
		}
		if over && ev.Top && !slices.Contains(top, ev.Index) {
			top = append(slices.Clone(top), ev.Index)
		}
		if over && !ev.Top && !slices.Contains(other, ev.Index) {
			other = append(slices.Clone(other), ev.Index)
		}
		h.Top, h.Other = top, other
		if !h.Pinned {
			h.Current = h.First()
		}

	case PointerDown:
		h.LastDown = ev.At

	case PointerPan:
		if ev.Delta.X == 0 && ev.Delta.Y == 0 {
			return h
		}
		h.LastPan = ev.At

	case PointerClick:
		if h.LastDown.Before(h.LastPan) {
			return h
		}
		if !ev.Visible {
			h.Current, h.Pinned = -1, false
			return h
		}
		h.Current = h.First()
		h.Pinned = h.Current >= 0
	}
	return h
}

func without(s []int, v int) []int {
	i := slices.Index(s, v)
	if i < 0 {
		return s
	}
	out := make([]int, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}
