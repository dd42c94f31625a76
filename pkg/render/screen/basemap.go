package screen

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"sort"

	"github.com/hajimehoshi/ebiten/v2"
	geojson "github.com/paulmach/go.geojson"

	"github.com/sudorandom/geoanim/pkg/binning"
)

// LoadBasemap reads a GeoJSON FeatureCollection of land polygons.
func LoadBasemap(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read basemap: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse basemap %s: %w", path, err)
	}
	return fc, nil
}

// RasterizeBasemap draws the polygons of fc as seen through vp.
func RasterizeBasemap(fc *geojson.FeatureCollection, vp binning.Viewport) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, vp.Width, vp.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{ColorBackground}, image.Point{}, draw.Src)
	if fc == nil || !vp.Valid() {
		return img
	}
	r := rasterizer{img: img, vp: vp}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch {
		case f.Geometry.IsPolygon():
			r.fillPolygon(f.Geometry.Polygon, ColorLand)
			for _, ring := range f.Geometry.Polygon {
				r.drawRing(ring, ColorOutline)
			}
		case f.Geometry.IsMultiPolygon():
			for _, poly := range f.Geometry.MultiPolygon {
				r.fillPolygon(poly, ColorLand)
				for _, ring := range poly {
					r.drawRing(ring, ColorOutline)
				}
			}
		}
	}
	return img
}

func (e *Engine) ensureBackgroundLocked() {
	if e.basemap == nil {
		return
	}
	if e.bgImage != nil && e.bgViewport == e.viewport {
		return
	}
	sameScale := e.bgViewport.Width == e.viewport.Width &&
		sameSpan(e.bgViewport, e.viewport)
	if e.bgImage != nil && e.input.dragging && sameScale {
		return
	}
	e.bgImage = ebiten.NewImageFromImage(RasterizeBasemap(e.basemap, e.viewport))
	e.bgViewport = e.viewport
}

func sameSpan(a, b binning.Viewport) bool {
	const eps = 1e-12
	aw := a.Bounds.LowerRight.X - a.Bounds.UpperLeft.X
	bw := b.Bounds.LowerRight.X - b.Bounds.UpperLeft.X
	ah := a.Bounds.UpperLeft.Y - a.Bounds.LowerRight.Y
	bh := b.Bounds.UpperLeft.Y - b.Bounds.LowerRight.Y
	return math.Abs(aw-bw) < eps && math.Abs(ah-bh) < eps && a.Height == b.Height
}

type rasterizer struct {
	img *image.RGBA
	vp  binning.Viewport
}

func (r rasterizer) project(p []float64) (float64, float64) {
	return r.vp.ToDisplay(p[0], p[1])
}

func (r rasterizer) fillPolygon(rings [][][]float64, c color.RGBA) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	width, height := r.vp.Width, r.vp.Height
	projected := make([][]point, len(rings))
	minY, maxY := float64(height), 0.0
	for i, ring := range rings {
		projected[i] = make([]point, 0, len(ring))
		for _, p := range ring {
			if len(p) < 2 {
				continue
			}
			x, y := r.project(p)
			projected[i] = append(projected[i], point{x, y})
			minY = math.Min(minY, y)
			maxY = math.Max(maxY, y)
		}
	}
	for y := max(int(minY), 0); y <= min(int(maxY), height-1); y++ {
		var nodes []int
		fy := float64(y)
		for _, ring := range projected {
			for i := range ring {
				j := (i + 1) % len(ring)
				if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
					nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
					nodes = append(nodes, int(nodeX))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i < len(nodes)-1; i += 2 {
			xs, xe := max(nodes[i], 0), min(nodes[i+1], width)
			for x := xs; x < xe; x++ {
				r.set(x, y, c)
			}
		}
	}
}

func (r rasterizer) drawRing(coords [][]float64, c color.RGBA) {
	for i := 0; i < len(coords)-1; i++ {
		if len(coords[i]) < 2 || len(coords[i+1]) < 2 {
			continue
		}
		x1, y1 := r.project(coords[i])
		x2, y2 := r.project(coords[i+1])
		if offscreen(x1, y1, x2, y2, r.vp) {
			continue
		}
		r.drawLine(int(x1), int(y1), int(x2), int(y2), c)
	}
}

// offscreen reports whether a segment lies entirely on one side of the view.
func offscreen(x1, y1, x2, y2 float64, vp binning.Viewport) bool {
	w, h := float64(vp.Width), float64(vp.Height)
	return (x1 < 0 && x2 < 0) || (y1 < 0 && y2 < 0) || (x1 >= w && x2 >= w) || (y1 >= h && y2 >= h)
}

func (r rasterizer) drawLine(x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		r.set(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func (r rasterizer) set(x, y int, c color.RGBA) {
	if x < 0 || x >= r.vp.Width || y < 0 || y >= r.vp.Height {
		return
	}
	off := y*r.img.Stride + x*4
	r.img.Pix[off], r.img.Pix[off+1], r.img.Pix[off+2], r.img.Pix[off+3] = c.R, c.G, c.B, 255
}
