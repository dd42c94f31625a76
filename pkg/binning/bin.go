package binning

import "sort"

// MinVectorCount is the number of contributing records a bin needs before its
// mean vector can raise the maximum vector length.
const MinVectorCount = 10

// Key identifies a grid cell.
type Key struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bin aggregates the records whose endpoints fall in one cell.
type Bin struct {
	Key
	Pickups  int `json:"pickups"`
	Dropoffs int `json:"dropoffs"`
	// PickupRecords and DropoffRecords index the snapshot rows counted here.
	PickupRecords  []int `json:"-"`
	DropoffRecords []int `json:"-"`

	// DX, DY accumulate displacement while binning and hold the mean afterwards,
	// in pixels for scaled vectors and in degrees for full-length vectors.
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	// Count is the number of endpoints that contributed displacement.
	Count int `json:"count"`
	// VecLen and Theta describe the scaled mean vector in screen space.
	VecLen float64 `json:"veclen"`
	Theta  float64 `json:"theta"`
}

// Flux is the net imbalance between pickups and dropoffs.
func (b *Bin) Flux() int {
	if b.Pickups > b.Dropoffs {
		return b.Pickups - b.Dropoffs
	}
	return b.Dropoffs - b.Pickups
}

// Maxima are the largest bin values, used to normalise intensities.
type Maxima struct {
	Pickups  int     `json:"maxpickup"`
	Dropoffs int     `json:"maxdropoff"`
	Flux     int     `json:"maxflux"`
	Vector   float64 `json:"maxvector"`
}

// Grow raises each maximum to include o.
func (m *Maxima) Grow(o Maxima) {
	m.Pickups = max(m.Pickups, o.Pickups)
	m.Dropoffs = max(m.Dropoffs, o.Dropoffs)
	m.Flux = max(m.Flux, o.Flux)
	m.Vector = max(m.Vector, o.Vector)
}

// Result is the output of one binning pass.
type Result struct {
	Viewport Viewport     `json:"viewport"`
	Grid     Grid         `json:"grid"`
	Bins     map[Key]*Bin `json:"-"`
	Maxima   Maxima       `json:"maxima"`
	// FullLength is set when vectors keep their geographic mean displacement.
	FullLength bool `json:"fullLength"`
	// Vectors is set when displacement was accumulated.
	Vectors bool `json:"vectors"`
}

// Sorted returns the populated bins ordered by column then row.
func (r *Result) Sorted() []*Bin {
	if r == nil {
		return nil
	}
	out := make([]*Bin, 0, len(r.Bins))
	for _, b := range r.Bins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Len returns the number of populated bins.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Bins)
}
