package screen

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func testViewport() binning.Viewport {
	return binning.NewViewport(200, 100, 0, 0, 0.1)
}

func square(x0, y0, x1, y1 float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(geojson.NewPolygonFeature([][][]float64{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}}))
	return fc
}

func TestRasterizeBasemap(t *testing.T) {
	vp := testViewport()
	img := RasterizeBasemap(square(-2, -2, 2, 2), vp)
	require.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())

	cx, cy := vp.ToDisplay(0, 0)
	assert.Equal(t, ColorLand, img.RGBAAt(int(cx), int(cy)))
	assert.Equal(t, ColorBackground, img.RGBAAt(2, 2))

	ex, ey := vp.ToDisplay(-2, 0)
	assert.Equal(t, ColorOutline, img.RGBAAt(int(ex), int(ey)))
}

func TestRasterizeBasemapClipsOffscreen(t *testing.T) {
	vp := testViewport()
	assert.NotPanics(t, func() {
		RasterizeBasemap(square(-500, -500, 500, 500), vp)
	})
	img := RasterizeBasemap(nil, vp)
	assert.Equal(t, ColorBackground, img.RGBAAt(100, 50))
}

func TestLoadBasemap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "land.geojson")
	data, err := square(0, 0, 1, 1).MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fc, err := LoadBasemap(path)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	_, err = LoadBasemap(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestKeyActions(t *testing.T) {
	pressed := func(keys ...ebiten.Key) func(ebiten.Key) bool {
		return func(k ebiten.Key) bool {
			for _, p := range keys {
				if p == k {
					return true
				}
			}
			return false
		}
	}
	assert.Equal(t, []string{layer.ActionPlay}, keyActions(pressed(ebiten.KeySpace), false))
	assert.Equal(t, []string{layer.ActionPause}, keyActions(pressed(ebiten.KeySpace), true))
	assert.Equal(t, []string{layer.ActionStop, layer.ActionStep}, keyActions(pressed(ebiten.KeyS, ebiten.KeyArrowRight), true))
	assert.Equal(t, []string{layer.ActionStepBack}, keyActions(pressed(ebiten.KeyArrowLeft), false))
	assert.Empty(t, keyActions(pressed(), false))
}

func TestZoomFactor(t *testing.T) {
	assert.InDelta(t, 1.0, zoomFactor(0), 1e-12)
	assert.Greater(t, zoomFactor(1), 1.0)
	assert.Less(t, zoomFactor(-1), 1.0)
}

func TestSurfaceCopiesOpacity(t *testing.T) {
	e := NewEngine(testViewport())
	e.SetPrimitives("a", &render.Primitives{Kind: render.KindPoints, Points: make([]binning.Point, 3)})
	buf := render.NewOpacityBuffer(3)
	buf.Fill(0.5, nil)
	e.UpdateOpacity("a", buf)
	buf.Fill(0, nil)

	assert.Equal(t, []float32{0.5, 0.5, 0.5}, e.layers["a"].opacity)

	e.SetBins("a", render.BinFrame{Step: 3})
	assert.Equal(t, 3, e.layers["a"].frame.Step)
}

func TestRect(t *testing.T) {
	x, y, w, h := rect(10, 40, 30, 20)
	assert.Equal(t, []float64{10, 20, 20, 20}, []float64{x, y, w, h})
}

func TestWithAlpha(t *testing.T) {
	c := withAlpha(render.ColorPickup, 2)
	assert.Equal(t, uint8(255), c.A)
	c = withAlpha(render.ColorPickup, 0.5)
	assert.Equal(t, uint8(127), c.A)
	assert.Equal(t, render.ColorPickup.B, c.B)
}

func TestCaptureName(t *testing.T) {
	ts := time.Date(2013, 1, 2, 3, 4, 5, 6e6, time.UTC)
	assert.Equal(t, "geoanim-20130102-030405.006-frame.png", captureName("frame", ts))
}

func TestWritePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	img := RasterizeBasemap(nil, testViewport())
	require.NoError(t, writePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), got.Bounds())
}

type fakeController struct {
	nearest  int
	events   []layer.PointerEvent
	actions  []string
	viewport binning.Viewport
	h        layer.Highlight
}

func (f *fakeController) Action(action string, _ int) error {
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeController) SetViewport(vp binning.Viewport) { f.viewport = vp }

func (f *fakeController) Pointer(ev layer.PointerEvent) layer.Highlight {
	f.events = append(f.events, ev)
	f.h = f.h.Handle(layer.PointerEvent{Kind: ev.Kind, Index: ev.Index, Top: ev.Top, Visible: true, At: ev.At})
	return f.h
}

func (f *fakeController) NearestPrimitive(_, _, _ float64) (int, bool) {
	return f.nearest, f.nearest >= 0
}

func (f *fakeController) Status() layer.Status { return layer.Status{} }

func TestAddLayerSendsViewport(t *testing.T) {
	e := NewEngine(testViewport())
	c := &fakeController{nearest: -1, h: layer.NewHighlight()}
	e.AddLayer("a", c)
	assert.Equal(t, testViewport(), c.viewport)

	vp := testViewport().Pan(10, 0)
	e.setViewport(vp)
	assert.Equal(t, vp, c.viewport)
}

func TestHoverTopMostLayer(t *testing.T) {
	e := NewEngine(testViewport())
	bottom := &fakeController{nearest: 2, h: layer.NewHighlight()}
	top := &fakeController{nearest: 5, h: layer.NewHighlight()}
	e.AddLayer("bottom", bottom)
	e.AddLayer("top", top)
	controllers, ids := e.snapshotControllers()

	e.hover(controllers, ids, 10, 10)
	require.Len(t, top.events, 1)
	assert.True(t, top.events[0].Top)
	require.Len(t, bottom.events, 1)
	assert.False(t, bottom.events[0].Top)
	assert.Equal(t, 5, e.layers["top"].current)

	// Same targets: no new events.
	e.hover(controllers, ids, 10, 10)
	assert.Len(t, top.events, 1)

	top.nearest = -1
	e.hover(controllers, ids, 50, 50)
	require.Len(t, top.events, 2)
	assert.Equal(t, layer.PointerOut, top.events[1].Kind)
	assert.Equal(t, -1, e.layers["top"].hovered)
}

func TestDispatch(t *testing.T) {
	e := NewEngine(testViewport())
	a := &fakeController{nearest: -1, h: layer.NewHighlight()}
	b := &fakeController{nearest: -1, h: layer.NewHighlight()}
	e.AddLayer("a", a)
	e.AddLayer("b", b)
	controllers, _ := e.snapshotControllers()
	e.dispatch(controllers, layer.ActionStop)
	assert.Equal(t, []string{layer.ActionStop}, a.actions)
	assert.Equal(t, []string{layer.ActionStop}, b.actions)
}

func TestStatusLinesShowBinSummary(t *testing.T) {
	st := layer.Status{Key: "taxi", Records: 3, Bins: 2, Description: "Stopped"}
	st.Clock.PlayState = "stop"
	assert.Equal(t, []string{"taxi  3 records", "2 bins", "stop  Stopped"}, statusLines(st))

	st.Summary = &binning.Summary{Bins: 2, MeanPickups: 1.5, StdDevPickups: 0.7071, P90Pickups: 2}
	assert.Equal(t, []string{
		"taxi  3 records",
		"2 bins",
		"pickups/bin 1.5 ±0.7  p90 2",
		"stop  Stopped",
	}, statusLines(st))
}
