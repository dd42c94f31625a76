// Package binning aggregates records into a screen-aligned grid of bins that is
// rebuilt whenever the viewport changes.
package binning

import "math"

// Point is a geographic (x = longitude, y = latitude) or screen position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds are the geographic corners of the visible map.
type Bounds struct {
	UpperLeft  Point `json:"upperLeft"`
	LowerRight Point `json:"lowerRight"`
}

// Viewport is the screen size and the geographic area it shows. The projection
// between the two is planar.
type Viewport struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bounds Bounds `json:"bounds"`
}

// NewViewport centers a viewport of the given pixel size on (lng, lat) where
// one pixel covers degPerPixel degrees.
func NewViewport(width, height int, lng, lat, degPerPixel float64) Viewport {
	hw := float64(width) / 2 * degPerPixel
	hh := float64(height) / 2 * degPerPixel
	return Viewport{
		Width:  width,
		Height: height,
		Bounds: Bounds{
			UpperLeft:  Point{X: lng - hw, Y: lat + hh},
			LowerRight: Point{X: lng + hw, Y: lat - hh},
		},
	}
}

// Valid reports whether the viewport has a drawable area.
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0 &&
		v.Bounds.LowerRight.X > v.Bounds.UpperLeft.X &&
		v.Bounds.UpperLeft.Y > v.Bounds.LowerRight.Y
}

func (v Viewport) spanX() float64 { return v.Bounds.LowerRight.X - v.Bounds.UpperLeft.X }
func (v Viewport) spanY() float64 { return v.Bounds.UpperLeft.Y - v.Bounds.LowerRight.Y }

// ToDisplay projects a geographic position to pixels, origin at the top left.
func (v Viewport) ToDisplay(x, y float64) (float64, float64) {
	px := (x - v.Bounds.UpperLeft.X) / v.spanX() * float64(v.Width)
	py := (v.Bounds.UpperLeft.Y - y) / v.spanY() * float64(v.Height)
	return px, py
}

// ToGeo is the inverse of ToDisplay.
func (v Viewport) ToGeo(px, py float64) (float64, float64) {
	x := v.Bounds.UpperLeft.X + px/float64(v.Width)*v.spanX()
	y := v.Bounds.UpperLeft.Y - py/float64(v.Height)*v.spanY()
	return x, y
}

// Contains reports whether a geographic position is inside the bounds.
func (v Viewport) Contains(x, y float64) bool {
	return x >= v.Bounds.UpperLeft.X && x < v.Bounds.LowerRight.X &&
		y > v.Bounds.LowerRight.Y && y <= v.Bounds.UpperLeft.Y
}

// Pan shifts the view by a pixel offset. Dragging right moves the map right.
func (v Viewport) Pan(dx, dy float64) Viewport {
	gx := dx / float64(v.Width) * v.spanX()
	gy := dy / float64(v.Height) * v.spanY()
	v.Bounds.UpperLeft.X -= gx
	v.Bounds.LowerRight.X -= gx
	v.Bounds.UpperLeft.Y += gy
	v.Bounds.LowerRight.Y += gy
	return v
}

// Zoom scales the view about a pixel anchor. Factors above 1 zoom in.
func (v Viewport) Zoom(factor, px, py float64) Viewport {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return v
	}
	ax, ay := v.ToGeo(px, py)
	scale := 1 / factor
	v.Bounds.UpperLeft.X = ax - (ax-v.Bounds.UpperLeft.X)*scale
	v.Bounds.LowerRight.X = ax + (v.Bounds.LowerRight.X-ax)*scale
	v.Bounds.UpperLeft.Y = ay + (v.Bounds.UpperLeft.Y-ay)*scale
	v.Bounds.LowerRight.Y = ay - (ay-v.Bounds.LowerRight.Y)*scale
	return v
}

// Resize keeps the upper-left corner and pixel scale while changing the screen size.
func (v Viewport) Resize(width, height int) Viewport {
	if v.Width <= 0 || v.Height <= 0 || width <= 0 || height <= 0 {
		return v
	}
	sx := v.spanX() / float64(v.Width)
	sy := v.spanY() / float64(v.Height)
	v.Bounds.LowerRight.X = v.Bounds.UpperLeft.X + float64(width)*sx
	v.Bounds.LowerRight.Y = v.Bounds.UpperLeft.Y - float64(height)*sy
	v.Width, v.Height = width, height
	return v
}
