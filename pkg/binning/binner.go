package binning

import (
	"math"

	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/cycle"
	"github.com/sudorandom/geoanim/pkg/dataset"
)

// AnimContext restricts a binning pass to the records visible at one animation
// step and carries maxima between steps.
type AnimContext struct {
	// TimeBins and TimeBins2 are the pickup and dropoff time bins per record.
	TimeBins  cycle.Assignment
	TimeBins2 cycle.Assignment
	NumBins   int
	Step      int
	SubSteps  int
	// ResetMax discards Carry and starts the maxima from zero.
	ResetMax bool
	// Carry holds the maxima of earlier steps; nil starts from zero.
	Carry *Maxima
}

func (a *AnimContext) visible(bins cycle.Assignment, i int) bool {
	if i >= len(bins) {
		return false
	}
	return cycle.InAnimationBin(bins[i], a.NumBins, a.Step, a.SubSteps)
}

// Binner aggregates snapshots into grid bins.
type Binner struct {
	NumBins    int
	Vectors    bool
	FullLength bool
	Filter     dataset.BadRecordFilter
}

// NewBinner configures a binner from display parameters.
func NewBinner(p config.Params) Binner {
	return Binner{
		NumBins:    p.GridBins(),
		Vectors:    p.Vectors(),
		FullLength: p.VectorLength == config.VectorFull,
		Filter:     dataset.BadRecordFilter{MaxJumpDegrees: p.MaxJumpDegrees},
	}
}

// Bin aggregates the records of s in vp. Records outside the viewport are
// dropped. The result depends only on its inputs.
func (b Binner) Bin(s *dataset.Snapshot, cols *dataset.Columns, vp Viewport, anim *AnimContext) *Result {
	numBins := max(b.NumBins, config.MinGridBins)
	res := &Result{
		Viewport:   vp,
		Bins:       make(map[Key]*Bin),
		FullLength: b.FullLength,
	}
	if anim != nil && !anim.ResetMax && anim.Carry != nil {
		res.Maxima = *anim.Carry
	}
	grid, ok := NewGrid(vp, numBins)
	if !ok || cols == nil || s.Len() == 0 {
		res.Grid = grid
		return res
	}
	res.Grid = grid
	res.Vectors = b.Vectors && cols.Paired

	var memo *dataset.BadMemo
	if res.Vectors {
		memo = b.Filter.NewMemo(s.Len(), cols)
	}
	ensure := func(k Key) *Bin {
		bin, ok := res.Bins[k]
		if !ok {
			bin = &Bin{Key: k}
			res.Bins[k] = bin
		}
		return bin
	}

	for i, rec := range s.Data {
		if anim == nil || anim.visible(anim.TimeBins, i) {
			if k, ok := cellOf(grid, vp, rec, cols.X, cols.Y); ok {
				bin := ensure(k)
				bin.Pickups++
				bin.PickupRecords = append(bin.PickupRecords, i)
				if memo != nil && !memo.IsBad(i, rec) {
					dx, dy := displacement(rec, cols)
					bin.DX += dx
					bin.DY += dy
					bin.Count++
				}
			}
		}
		if !cols.Paired {
			continue
		}
		if anim == nil || anim.visible(anim.TimeBins2, i) {
			if k, ok := cellOf(grid, vp, rec, cols.X2, cols.Y2); ok {
				bin := ensure(k)
				bin.Dropoffs++
				bin.DropoffRecords = append(bin.DropoffRecords, i)
				if memo != nil && !memo.IsBad(i, rec) {
					dx, dy := displacement(rec, cols)
					bin.DX -= dx
					bin.DY -= dy
					bin.Count++
				}
			}
		}
	}

	for _, bin := range res.Bins {
		res.Maxima.Pickups = max(res.Maxima.Pickups, bin.Pickups)
		res.Maxima.Dropoffs = max(res.Maxima.Dropoffs, bin.Dropoffs)
		res.Maxima.Flux = max(res.Maxima.Flux, bin.Flux())
		if bin.Count == 0 {
			continue
		}
		bin.DX /= float64(bin.Count)
		bin.DY /= float64(bin.Count)
		if b.FullLength {
			continue
		}
		ctr := grid.Center(bin.Key)
		cx, cy := vp.ToDisplay(ctr.X, ctr.Y)
		ex, ey := vp.ToDisplay(ctr.X+bin.DX, ctr.Y+bin.DY)
		bin.DX, bin.DY = ex-cx, ey-cy
		bin.VecLen = math.Hypot(bin.DX, bin.DY)
		bin.Theta = math.Atan2(bin.DY, bin.DX)
		if bin.Count >= MinVectorCount && bin.VecLen > res.Maxima.Vector {
			res.Maxima.Vector = bin.VecLen
		}
	}
	return res
}

// cellOf maps a record position to its cell. The grid can overhang the
// viewport, so positions are checked against the viewport first.
func cellOf(g Grid, vp Viewport, rec dataset.Record, xc, yc int) (Key, bool) {
	x, ok := dataset.Float(rec, xc)
	if !ok {
		return Key{}, false
	}
	y, ok := dataset.Float(rec, yc)
	if !ok {
		return Key{}, false
	}
	if !vp.Contains(x, y) {
		return Key{}, false
	}
	return g.Cell(x, y)
}

func displacement(rec dataset.Record, c *dataset.Columns) (float64, float64) {
	x1, _ := dataset.Float(rec, c.X)
	y1, _ := dataset.Float(rec, c.Y)
	x2, _ := dataset.Float(rec, c.X2)
	y2, _ := dataset.Float(rec, c.Y2)
	return x2 - x1, y2 - y1
}
