// Package geojson exports render output as GeoJSON FeatureCollections.
package geojson

import (
	"fmt"
	"image/color"
	"sync"

	gj "github.com/paulmach/go.geojson"

	"github.com/sudorandom/geoanim/pkg/render"
)

// Feature kinds stored in the "kind" property.
const (
	KindBin    = "bin"
	KindVector = "vector"
	KindPoint  = "point"
	KindLine   = "line"
)

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// FrameCollection converts projected bins into polygons and vector lines.
func FrameCollection(f render.BinFrame) *gj.FeatureCollection {
	fc := gj.NewFeatureCollection()
	for _, q := range f.Quads {
		ring := make([][]float64, 0, 5)
		for _, c := range q.Corners {
			ring = append(ring, []float64{c.X, c.Y})
		}
		ring = append(ring, ring[0])
		feat := gj.NewPolygonFeature([][][]float64{ring})
		feat.SetProperty("kind", KindBin)
		feat.SetProperty("cell", []int{q.Key.X, q.Key.Y})
		feat.SetProperty("pickups", q.Pickups)
		feat.SetProperty("dropoffs", q.Dropoffs)
		feat.SetProperty("fill", hex(q.Fill))
		feat.SetProperty("opacity", q.Opacity)
		fc.AddFeature(feat)
	}
	for _, l := range f.Lines {
		feat := gj.NewLineStringFeature([][]float64{{l.From.X, l.From.Y}, {l.To.X, l.To.Y}})
		feat.SetProperty("kind", KindVector)
		feat.SetProperty("cell", []int{l.Key.X, l.Key.Y})
		feat.SetProperty("opacity", l.Opacity)
		feat.SetProperty("width", l.Width)
		fc.AddFeature(feat)
	}
	return fc
}

// PrimitivesCollection converts raw primitives into points or lines. Only
// primitives with a positive opacity are exported.
func PrimitivesCollection(p *render.Primitives, opacity []float32) *gj.FeatureCollection {
	fc := gj.NewFeatureCollection()
	if p == nil {
		return fc
	}
	visible := func(i int) (float32, bool) {
		if i >= len(opacity) || opacity[i] <= 0 {
			return 0, false
		}
		return opacity[i], true
	}
	switch p.Kind {
	case render.KindPoints:
		for i, pt := range p.Points {
			a, ok := visible(i)
			if !ok {
				continue
			}
			feat := gj.NewPointFeature([]float64{pt.X, pt.Y})
			feat.SetProperty("kind", KindPoint)
			feat.SetProperty("record", p.Records[i])
			feat.SetProperty("color", hex(p.Colors[i]))
			feat.SetProperty("opacity", a)
			fc.AddFeature(feat)
		}
	case render.KindLines:
		for i, seg := range p.Lines {
			a, ok := visible(i)
			if !ok {
				continue
			}
			feat := gj.NewLineStringFeature([][]float64{{seg.From.X, seg.From.Y}, {seg.To.X, seg.To.Y}})
			feat.SetProperty("kind", KindLine)
			feat.SetProperty("record", p.Records[i])
			feat.SetProperty("color", hex(p.Colors[i]))
			feat.SetProperty("opacity", a)
			fc.AddFeature(feat)
		}
	}
	return fc
}

type layerOutput struct {
	frame   render.BinFrame
	prims   *render.Primitives
	opacity []float32
}

// Recorder is a render.Surface that keeps the latest output of every layer so
// it can be served as GeoJSON.
type Recorder struct {
	mu     sync.RWMutex
	layers map[string]*layerOutput
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{layers: make(map[string]*layerOutput)}
}

func (r *Recorder) outputLocked(id string) *layerOutput {
	out, ok := r.layers[id]
	if !ok {
		out = &layerOutput{frame: render.BinFrame{Step: -1}}
		r.layers[id] = out
	}
	return out
}

func (r *Recorder) SetPrimitives(id string, p *render.Primitives) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outputLocked(id)
	out.prims = p
	out.opacity = nil
}

func (r *Recorder) SetBins(id string, f render.BinFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputLocked(id).frame = f
}

func (r *Recorder) UpdateOpacity(id string, buf *render.OpacityBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outputLocked(id)
	out.opacity = append(out.opacity[:0], buf.Values()...)
}

// Frame returns the latest bins of a layer.
func (r *Recorder) Frame(id string) (render.BinFrame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.layers[id]
	if !ok {
		return render.BinFrame{Step: -1}, false
	}
	return out.frame, true
}

// Collection returns the latest output of a layer: its bins, followed by its
// visible raw primitives.
func (r *Recorder) Collection(id string) (*gj.FeatureCollection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.layers[id]
	if !ok {
		return nil, false
	}
	fc := FrameCollection(out.frame)
	fc.Features = append(fc.Features, PrimitivesCollection(out.prims, out.opacity).Features...)
	return fc, true
}
