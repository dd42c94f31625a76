package layer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sudorandom/geoanim/pkg/binning"
)

func TestHighlightHover(t *testing.T) {
	h := NewHighlight()
	h = h.Handle(PointerEvent{Kind: PointerOver, Index: 4, Visible: true})
	assert.Equal(t, 4, h.Current)
	h = h.Handle(PointerEvent{Kind: PointerOver, Index: 7, Top: true, Visible: true})
	assert.Equal(t, 7, h.Current, "top-most points win")
	assert.Equal(t, []int{7}, h.Top)
	assert.Equal(t, []int{4}, h.Other)

	h = h.Handle(PointerEvent{Kind: PointerOut, Index: 7, Top: true})
	assert.Equal(t, 4, h.Current)
	h = h.Handle(PointerEvent{Kind: PointerOut, Index: 4})
	assert.Equal(t, -1, h.Current)
	assert.Empty(t, h.Top)
	assert.Empty(t, h.Other)
}

func TestHighlightInvisibleHoverIsOut(t *testing.T) {
	h := NewHighlight().Handle(PointerEvent{Kind: PointerOver, Index: 2, Visible: true})
	h = h.Handle(PointerEvent{Kind: PointerOver, Index: 2, Visible: false})
	assert.Equal(t, -1, h.Current)
}

func TestHighlightDoesNotMutateReceiver(t *testing.T) {
	h := NewHighlight().Handle(PointerEvent{Kind: PointerOver, Index: 1, Top: true, Visible: true})
	_ = h.Handle(PointerEvent{Kind: PointerOver, Index: 2, Top: true, Visible: true})
	assert.Equal(t, []int{1}, h.Top)
}

func TestHighlightClickPins(t *testing.T) {
	t0 := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHighlight().Handle(PointerEvent{Kind: PointerOver, Index: 3, Visible: true})
	h = h.Handle(PointerEvent{Kind: PointerDown, At: t0})
	h = h.Handle(PointerEvent{Kind: PointerClick, Visible: true, At: t0})
	assert.True(t, h.Pinned)
	assert.Equal(t, 3, h.Current)

	h = h.Handle(PointerEvent{Kind: PointerOut, Index: 3})
	assert.Equal(t, 3, h.Current, "pinned selection survives hover changes")

	h = h.Handle(PointerEvent{Kind: PointerDown, At: t0.Add(time.Second)})
	h = h.Handle(PointerEvent{Kind: PointerClick, Visible: true})
	assert.False(t, h.Pinned)
	assert.Equal(t, -1, h.Current)
}

func TestHighlightClickAfterPanIgnored(t *testing.T) {
	t0 := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHighlight().Handle(PointerEvent{Kind: PointerOver, Index: 3, Visible: true})
	h = h.Handle(PointerEvent{Kind: PointerDown, At: t0})
	h = h.Handle(PointerEvent{Kind: PointerPan, Delta: binning.Point{X: 0, Y: 0}, At: t0.Add(time.Second)})
	assert.True(t, h.LastPan.IsZero(), "zero pans are ignored")

	h = h.Handle(PointerEvent{Kind: PointerPan, Delta: binning.Point{X: 3}, At: t0.Add(time.Second)})
	h = h.Handle(PointerEvent{Kind: PointerClick, Visible: true})
	assert.False(t, h.Pinned)
}

func TestHighlightClickOnHiddenLayer(t *testing.T) {
	h := NewHighlight().Handle(PointerEvent{Kind: PointerOver, Index: 3, Visible: true})
	h = h.Handle(PointerEvent{Kind: PointerClick, Visible: false})
	assert.Equal(t, -1, h.Current)
	assert.False(t, h.Pinned)
}
