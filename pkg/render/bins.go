package render

import (
	"image/color"
	"math"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
)

// MaxVectorScale enlarges binned vectors: lines reach full length at
// 1/MaxVectorScale of the longest mean vector.
const MaxVectorScale = 5

// Quad is one filled grid cell.
type Quad struct {
	Key      binning.Key      `json:"key"`
	Corners  [4]binning.Point `json:"corners"`
	Fill     color.RGBA       `json:"-"`
	Opacity  float64          `json:"opacity"`
	Pickups  int              `json:"pickups"`
	Dropoffs int              `json:"dropoffs"`
}

// VectorLine is the mean displacement of a cell.
type VectorLine struct {
	Key     binning.Key   `json:"key"`
	From    binning.Point `json:"from"`
	To      binning.Point `json:"to"`
	Opacity float64       `json:"opacity"`
	Width   float64       `json:"width"`
}

// BinFrame is a fully projected binned display.
type BinFrame struct {
	Quads  []Quad         `json:"quads"`
	Lines  []VectorLine   `json:"lines"`
	Maxima binning.Maxima `json:"maxima"`
	// Step is the animation step, or -1 for the unanimated display.
	Step  int    `json:"step"`
	Label string `json:"label,omitempty"`
}

// ProjectOptions select how bins are coloured and sized.
type ProjectOptions struct {
	Display    config.DisplayType
	FullLength bool
}

// ProjectBins converts a binning result into quads and vector lines. It keeps
// no state.
func ProjectBins(res *binning.Result, opts ProjectOptions) BinFrame {
	frame := BinFrame{Step: -1}
	if res == nil {
		return frame
	}
	frame.Maxima = res.Maxima
	g, vp, m := res.Grid, res.Viewport, res.Maxima
	corners := [4][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}}

	bins := res.Sorted()
	for _, b := range bins {
		q := Quad{Key: b.Key, Pickups: b.Pickups, Dropoffs: b.Dropoffs}
		for i, c := range corners {
			q.Corners[i] = g.At(b.Key, c[0], c[1])
		}
		switch opts.Display {
		case config.DisplayBoth, config.DisplayVector:
			q.Fill = ColorDropoff
			if b.Pickups > b.Dropoffs {
				q.Fill = ColorPickup
			}
			q.Opacity = ratio(float64(b.Flux()), float64(m.Flux))
		case config.DisplayDropoff:
			q.Fill = ColorSingle
			q.Opacity = ratio(float64(b.Dropoffs), float64(m.Dropoffs))
		default:
			q.Fill = ColorSingle
			q.Opacity = ratio(float64(b.Pickups), float64(m.Pickups))
		}
		frame.Quads = append(frame.Quads, q)
	}

	if opts.Display != config.DisplayVector || !res.Vectors || (m.Vector == 0 && !opts.FullLength) {
		return frame
	}
	maxVector := m.Vector / MaxVectorScale
	for _, b := range bins {
		if b.Count == 0 {
			continue
		}
		from := g.Center(b.Key)
		var to binning.Point
		if opts.FullLength {
			to = binning.Point{X: from.X + b.DX, Y: from.Y + b.DY}
		} else {
			l := math.Min(b.VecLen, maxVector) * g.BinSize / maxVector / 2
			px, py := vp.ToDisplay(from.X, from.Y)
			to.X, to.Y = vp.ToGeo(px+math.Cos(b.Theta)*l, py+math.Sin(b.Theta)*l)
		}
		frame.Lines = append(frame.Lines, VectorLine{
			Key:     b.Key,
			From:    from,
			To:      to,
			Opacity: ratio(float64(b.Flux()), float64(m.Flux)),
			Width:   5,
		})
	}
	return frame
}

// ratio divides and clamps to [0, 1]; a zero maximum yields 0.
func ratio(v, maxV float64) float64 {
	if maxV <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, v/maxV))
}
