package render

import (
	"image/color"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/dataset"
)

// Kind is the primitive type of a raw display.
type Kind int

const (
	KindNone Kind = iota
	KindPoints
	KindLines
)

func (k Kind) String() string {
	switch k {
	case KindPoints:
		return "points"
	case KindLines:
		return "lines"
	default:
		return "none"
	}
}

// Segment is a pickup→dropoff line in geographic coordinates.
type Segment struct {
	From binning.Point `json:"from"`
	To   binning.Point `json:"to"`
}

// Primitives are the raw points or lines of a layer. Index i of every slice
// describes primitive i.
type Primitives struct {
	Kind Kind
	// Points holds positions for KindPoints.
	Points []binning.Point
	// Lines holds segments for KindLines.
	Lines []Segment
	// Colors holds the fill colour of points or the start colour of lines.
	Colors []color.RGBA
	// EndColor is the colour at the dropoff end of every line.
	EndColor color.RGBA
	// Records maps a primitive back to its snapshot row.
	Records []int
	// Hidden marks primitives that are never drawn, such as bad vectors.
	Hidden []bool
	// Interleaved is set when primitive 2i is the pickup and 2i+1 the dropoff of row i.
	Interleaved bool
	Radius      float64
	Width       float64
}

// Len returns the number of primitives.
func (p *Primitives) Len() int {
	if p == nil {
		return 0
	}
	switch p.Kind {
	case KindPoints:
		return len(p.Points)
	case KindLines:
		return len(p.Lines)
	}
	return 0
}

// BuildPrimitives converts a snapshot into raw points or lines for display.
// Point displays hold at most MaxPoints rows and vector displays at most
// MaxVectors; "both" draws two points per row. bad flags rows whose vector is
// hidden and may be nil.
func BuildPrimitives(s *dataset.Snapshot, cols *dataset.Columns, p config.Params, pointColor color.RGBA, bad []bool) *Primitives {
	out := &Primitives{Radius: 5, Width: 5}
	if cols == nil || s.Len() == 0 {
		return out
	}
	rows := s.Data

	switch {
	case cols.Paired && p.DisplayType == config.DisplayVector:
		if p.MaxVectors > 0 && len(rows) > p.MaxVectors {
			rows = rows[:p.MaxVectors]
		}
		out.Kind = KindLines
		out.EndColor = ColorDropoff
		for i, rec := range rows {
			x1, _ := dataset.Float(rec, cols.X)
			y1, _ := dataset.Float(rec, cols.Y)
			x2, _ := dataset.Float(rec, cols.X2)
			y2, _ := dataset.Float(rec, cols.Y2)
			out.Lines = append(out.Lines, Segment{From: binning.Point{X: x1, Y: y1}, To: binning.Point{X: x2, Y: y2}})
			out.Colors = append(out.Colors, ColorPickup)
			out.Records = append(out.Records, i)
			out.Hidden = append(out.Hidden, i < len(bad) && bad[i])
		}

	case cols.Paired && p.DisplayType == config.DisplayBoth:
		if p.MaxPoints > 0 && len(rows) > p.MaxPoints {
			rows = rows[:p.MaxPoints]
		}
		out.Kind = KindPoints
		out.Interleaved = true
		for i, rec := range rows {
			out.addPoint(rec, cols.X, cols.Y, i, ColorPickup)
			out.addPoint(rec, cols.X2, cols.Y2, i, ColorDropoff)
		}

	default:
		if p.MaxPoints > 0 && len(rows) > p.MaxPoints {
			rows = rows[:p.MaxPoints]
		}
		out.Kind = KindPoints
		for i, rec := range rows {
			out.addPoint(rec, cols.X, cols.Y, i, pointColor)
		}
	}
	return out
}

// addPoint appends a point; rows without coordinates stay as hidden
// placeholders so primitive indices keep matching time-bin indices.
func (p *Primitives) addPoint(rec dataset.Record, xc, yc, row int, c color.RGBA) {
	x, okx := dataset.Float(rec, xc)
	y, oky := dataset.Float(rec, yc)
	p.Points = append(p.Points, binning.Point{X: x, Y: y})
	p.Colors = append(p.Colors, c)
	p.Records = append(p.Records, row)
	p.Hidden = append(p.Hidden, !okx || !oky)
}

// PointColor returns the single-endpoint colour for a dataset.
func PointColor(d dataset.Descriptor) color.RGBA {
	if d.IsVector() {
		return ColorSingle
	}
	return ColorPost
}
