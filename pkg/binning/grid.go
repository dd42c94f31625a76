package binning

import "math"

// Grid is the cell layout for one viewport. Cells are square on screen; the
// shorter screen axis holds exactly the configured number of cells and the grid
// is centered on the view.
type Grid struct {
	// Extents of the viewport in geographic units.
	Extents Bounds `json:"extents"`
	// X0, Y0 is the geographic origin of cell (0, 0), its south-west corner.
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	// W, H are the cell size in geographic units.
	W float64 `json:"w"`
	H float64 `json:"h"`
	// BinSize is the cell size in pixels.
	BinSize float64 `json:"binSize"`
	Cols    int     `json:"cols"`
	Rows    int     `json:"rows"`
}

// NewGrid lays out a grid with numBins cells along the shorter screen axis.
func NewGrid(vp Viewport, numBins int) (Grid, bool) {
	if !vp.Valid() || numBins <= 0 {
		return Grid{}, false
	}
	width, height := float64(vp.Width), float64(vp.Height)
	binSize := math.Min(width, height) / float64(numBins)

	x0, x1 := vp.Bounds.UpperLeft.X, vp.Bounds.LowerRight.X
	y0, y1 := vp.Bounds.LowerRight.Y, vp.Bounds.UpperLeft.Y
	binW := (x1 - x0) / width * binSize
	binH := (y1 - y0) / height * binSize

	cols, rows := numBins, numBins
	if vp.Width > vp.Height {
		cols = cellsAlong(width, binSize)
	}
	if vp.Height > vp.Width {
		rows = cellsAlong(height, binSize)
	}

	return Grid{
		Extents: vp.Bounds,
		X0:      x0 + (x1-x0-binW*float64(cols))/2,
		Y0:      y0 + (y1-y0-binH*float64(rows))/2,
		W:       binW,
		H:       binH,
		BinSize: binSize,
		Cols:    cols,
		Rows:    rows,
	}, true
}

// cellsAlong tolerates rounding so an exact multiple does not gain a cell.
func cellsAlong(pixels, binSize float64) int {
	return int(math.Ceil(pixels/binSize - 1e-9))
}

// Cell returns the cell containing a geographic position. Positions outside the
// grid report false.
func (g Grid) Cell(x, y float64) (Key, bool) {
	fx := (x - g.X0) / g.W
	fy := (y - g.Y0) / g.H
	if !(fx >= 0 && fx < float64(g.Cols) && fy >= 0 && fy < float64(g.Rows)) {
		return Key{}, false
	}
	return Key{X: int(fx), Y: int(fy)}, true
}

// At returns the geographic position at fractional offset (fx, fy) inside a cell.
// (0.5, 0.5) is the center.
func (g Grid) At(k Key, fx, fy float64) Point {
	return Point{
		X: (float64(k.X)+fx)*g.W + g.X0,
		Y: (float64(k.Y)+fy)*g.H + g.Y0,
	}
}

// Center returns the geographic center of a cell.
func (g Grid) Center(k Key) Point { return g.At(k, 0.5, 0.5) }
