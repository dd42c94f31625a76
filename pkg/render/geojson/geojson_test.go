package geojson

import (
	"encoding/json"
	"image/color"
	"testing"

	gj "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/render"
)

func testFrame() render.BinFrame {
	return render.BinFrame{
		Quads: []render.Quad{{
			Key: binning.Key{X: 1, Y: 2},
			Corners: [4]binning.Point{
				{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0},
			},
			Fill:     render.ColorPickup,
			Opacity:  0.5,
			Pickups:  3,
			Dropoffs: 1,
		}},
		Lines: []render.VectorLine{{
			Key:     binning.Key{X: 1, Y: 2},
			From:    binning.Point{X: 0.5, Y: 0.5},
			To:      binning.Point{X: 0.8, Y: 0.6},
			Opacity: 0.5,
			Width:   5,
		}},
		Step:  4,
		Label: "04:00 - 05:00",
	}
}

func TestFrameCollection(t *testing.T) {
	fc := FrameCollection(testFrame())
	require.Len(t, fc.Features, 2)

	bin := fc.Features[0]
	require.True(t, bin.Geometry.IsPolygon())
	ring := bin.Geometry.Polygon[0]
	assert.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4], "ring is closed")
	assert.Equal(t, KindBin, bin.Properties["kind"])
	assert.Equal(t, "#0000FF", bin.Properties["fill"])
	assert.Equal(t, 3, bin.Properties["pickups"])

	vec := fc.Features[1]
	require.True(t, vec.Geometry.IsLineString())
	assert.Equal(t, KindVector, vec.Properties["kind"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	back, err := gj.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, back.Features, 2)
	assert.InDelta(t, 0.5, back.Features[0].Properties["opacity"], 1e-12)
}

func TestPrimitivesCollectionSkipsHidden(t *testing.T) {
	p := &render.Primitives{
		Kind:    render.KindPoints,
		Points:  []binning.Point{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}},
		Colors:  []color.RGBA{render.ColorPost, render.ColorPost, render.ColorPost},
		Records: []int{0, 1, 2},
	}
	fc := PrimitivesCollection(p, []float32{0.1, 0, 0.2})
	require.Len(t, fc.Features, 2)
	assert.Equal(t, []float64{5, 6}, fc.Features[1].Geometry.Point)
	assert.Equal(t, 2, fc.Features[1].Properties["record"])
	assert.Equal(t, "#FF0000", fc.Features[0].Properties["color"])

	assert.Empty(t, PrimitivesCollection(nil, nil).Features)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_, ok := r.Collection("taxi")
	assert.False(t, ok)

	var s render.Surface = r
	s.SetBins("taxi", testFrame())
	s.SetPrimitives("taxi", &render.Primitives{
		Kind:    render.KindLines,
		Lines:   []render.Segment{{From: binning.Point{X: 0, Y: 0}, To: binning.Point{X: 1, Y: 1}}},
		Colors:  []color.RGBA{render.ColorPickup},
		Records: []int{7},
	})
	buf := render.NewOpacityBuffer(1)
	buf.Fill(0.3, nil)
	s.UpdateOpacity("taxi", buf)
	buf.Fill(0, nil)

	fc, ok := r.Collection("taxi")
	require.True(t, ok)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, KindLine, fc.Features[2].Properties["kind"])

	f, ok := r.Frame("taxi")
	require.True(t, ok)
	assert.Equal(t, 4, f.Step)
}
