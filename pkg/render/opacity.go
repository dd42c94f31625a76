package render

import (
	"github.com/sudorandom/geoanim/pkg/cycle"
)

// DefaultAnimatedOpacity is used when neither the animation nor the display
// configures an opacity.
const DefaultAnimatedOpacity = 0.1

// OpacityBuffer holds one opacity per primitive. It is allocated when the
// primitives change and rewritten in place for every frame.
type OpacityBuffer struct {
	values  []float32
	version uint64
}

// NewOpacityBuffer allocates a buffer for n primitives.
func NewOpacityBuffer(n int) *OpacityBuffer {
	return &OpacityBuffer{values: make([]float32, n)}
}

// OpacityBufferOf wraps existing values, as received from a remote producer.
func OpacityBufferOf(values []float32, version uint64) *OpacityBuffer {
	return &OpacityBuffer{values: values, version: version}
}

// Len returns the number of primitives.
func (b *OpacityBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.values)
}

// Values exposes the backing slice. Callers must treat it as read-only.
func (b *OpacityBuffer) Values() []float32 { return b.values }

// At returns the opacity of primitive i.
func (b *OpacityBuffer) At(i int) float32 {
	if i < 0 || i >= len(b.values) {
		return 0
	}
	return b.values[i]
}

// Version increments on every write so consumers can skip unchanged buffers.
func (b *OpacityBuffer) Version() uint64 { return b.version }

// Fill sets every visible primitive to opacity. Hidden primitives get zero.
func (b *OpacityBuffer) Fill(opacity float64, hidden []bool) {
	v := float32(opacity)
	for i := range b.values {
		if i < len(hidden) && hidden[i] {
			b.values[i] = 0
			continue
		}
		b.values[i] = v
	}
	b.version++
}

// ApplyStep shows the primitives whose time bin is in the animation window at
// step and hides the rest.
func (b *OpacityBuffer) ApplyStep(bins cycle.Assignment, numBins, step, subSteps int, opacity float64, hidden []bool) {
	v := float32(opacity)
	for i := range b.values {
		vis := i < len(bins) && cycle.InAnimationBin(bins[i], numBins, step, subSteps)
		if vis && i < len(hidden) && hidden[i] {
			vis = false
		}
		if vis {
			b.values[i] = v
		} else {
			b.values[i] = 0
		}
	}
	b.version++
}

// Snapshot copies the current values.
func (b *OpacityBuffer) Snapshot() []float32 {
	return append([]float32(nil), b.values...)
}

// AnimatedOpacity is the opacity of visible primitives while animating. An
// explicit animation opacity wins; otherwise the display opacity is boosted by half.
func AnimatedOpacity(animation, display float64) float64 {
	switch {
	case animation > 0:
		return min(animation, 1)
	case display > 0:
		return min(display*1.5, 1)
	default:
		return DefaultAnimatedOpacity
	}
}
