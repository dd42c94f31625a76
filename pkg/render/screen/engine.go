// Package screen draws layers into an ebiten window and turns keyboard and
// mouse input into layer actions.
package screen

import (
	"bytes"
	"image/color"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	geojson "github.com/paulmach/go.geojson"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

var (
	ColorBackground = color.RGBA{8, 10, 15, 255}
	ColorLand       = color.RGBA{26, 29, 35, 255}
	ColorOutline    = color.RGBA{36, 42, 53, 255}
)

// Controller is the part of a layer the window drives.
type Controller interface {
	Action(action string, step int) error
	SetViewport(vp binning.Viewport)
	Pointer(ev layer.PointerEvent) layer.Highlight
	NearestPrimitive(px, py, radius float64) (int, bool)
	Status() layer.Status
}

type layerState struct {
	prims   *render.Primitives
	opacity []float32
	frame   render.BinFrame
	current int
	hovered int
}

// Engine is an ebiten.Game and a render.Surface. Layers call the Surface
// methods while holding their own lock, so the engine never calls into a
// layer while holding e.mu.
type Engine struct {
	Width, Height   int
	FrameCaptureDir string
	// PickRadius is the hover distance in pixels.
	PickRadius float64
	// OnFrame, when set, receives every drawn frame.
	OnFrame func(screen *ebiten.Image)

	mu          sync.Mutex
	controllers []Controller
	ids         []string
	// order is the draw order of every layer the engine has seen, including
	// layers fed only through the Surface methods.
	order       []string
	layers      map[string]*layerState
	viewport    binning.Viewport
	basemap     *geojson.FeatureCollection
	bgImage     *ebiten.Image
	bgViewport  binning.Viewport
	fontSource  *text.GoTextFaceSource
	monoSource  *text.GoTextFaceSource
	captureNext bool
	statuses    []layer.Status

	input inputState
}

// NewEngine returns an engine showing vp.
func NewEngine(vp binning.Viewport) *Engine {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	m, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))
	return &Engine{
		Width:      vp.Width,
		Height:     vp.Height,
		PickRadius: 6,
		layers:     make(map[string]*layerState),
		viewport:   vp,
		fontSource: s,
		monoSource: m,
		input:      newInputState(),
	}
}

// AddLayer registers a layer to draw and control. Layers added later draw on
// top.
func (e *Engine) AddLayer(id string, c Controller) {
	e.mu.Lock()
	e.controllers = append(e.controllers, c)
	e.ids = append(e.ids, id)
	e.stateLocked(id)
	vp := e.viewport
	e.mu.Unlock()
	c.SetViewport(vp)
}

// SetBasemap installs the land polygons drawn under the layers.
func (e *Engine) SetBasemap(fc *geojson.FeatureCollection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.basemap = fc
	e.bgImage = nil
}

// Viewport returns the area currently shown.
func (e *Engine) Viewport() binning.Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

func (e *Engine) stateLocked(id string) *layerState {
	st, ok := e.layers[id]
	if !ok {
		st = &layerState{frame: render.BinFrame{Step: -1}, current: -1, hovered: -1}
		e.layers[id] = st
		e.order = append(e.order, id)
	}
	return st
}

func (e *Engine) SetPrimitives(id string, p *render.Primitives) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(id)
	st.prims = p
	st.opacity = st.opacity[:0]
	st.current, st.hovered = -1, -1
}

func (e *Engine) SetBins(id string, f render.BinFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateLocked(id).frame = f
}

// UpdateOpacity copies the buffer; the caller rewrites it on every frame.
func (e *Engine) UpdateOpacity(id string, buf *render.OpacityBuffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(id)
	st.opacity = append(st.opacity[:0], buf.Values()...)
}

func (e *Engine) Layout(w, h int) (int, int) { return e.Width, e.Height }

func (e *Engine) Update() error {
	e.handleInput(time.Now())
	return nil
}

func (e *Engine) Draw(screen *ebiten.Image) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ensureBackgroundLocked()
	if e.bgImage != nil {
		op := &ebiten.DrawImageOptions{}
		// While a pan is in flight the basemap is shifted rather than redrawn.
		dx, dy := e.bgViewport.ToDisplay(e.viewport.Bounds.UpperLeft.X, e.viewport.Bounds.UpperLeft.Y)
		op.GeoM.Translate(-dx, -dy)
		screen.DrawImage(e.bgImage, op)
	} else {
		screen.Fill(ColorBackground)
	}

	for _, id := range e.order {
		st := e.layers[id]
		e.drawBins(screen, st.frame)
		e.drawPrimitives(screen, st)
	}

	e.drawStatus(screen)

	if e.captureNext {
		e.captureNext = false
		e.captureFrame(screen, "frame", time.Now())
	}
	if e.OnFrame != nil {
		e.OnFrame(screen)
	}
}

func (e *Engine) drawBins(screen *ebiten.Image, f render.BinFrame) {
	vp := e.viewport
	for _, q := range f.Quads {
		if q.Opacity <= 0 {
			continue
		}
		x0, y0 := vp.ToDisplay(q.Corners[0].X, q.Corners[0].Y)
		x1, y1 := vp.ToDisplay(q.Corners[2].X, q.Corners[2].Y)
		x, y, w, h := rect(x0, y0, x1, y1)
		vector.DrawFilledRect(screen, float32(x), float32(y), float32(w), float32(h), withAlpha(q.Fill, q.Opacity), false)
	}
	for _, l := range f.Lines {
		if l.Opacity <= 0 {
			continue
		}
		x0, y0 := vp.ToDisplay(l.From.X, l.From.Y)
		x1, y1 := vp.ToDisplay(l.To.X, l.To.Y)
		vector.StrokeLine(screen, float32(x0), float32(y0), float32(x1), float32(y1), float32(l.Width), withAlpha(render.ColorVector, l.Opacity), true)
	}
}

func (e *Engine) drawPrimitives(screen *ebiten.Image, st *layerState) {
	p := st.prims
	if p == nil {
		return
	}
	vp := e.viewport
	switch p.Kind {
	case render.KindPoints:
		for i, pt := range p.Points {
			a := opacityAt(st.opacity, i)
			if a <= 0 {
				continue
			}
			x, y := vp.ToDisplay(pt.X, pt.Y)
			if x < -p.Radius || y < -p.Radius || x > float64(vp.Width)+p.Radius || y > float64(vp.Height)+p.Radius {
				continue
			}
			if i == st.current {
				vector.DrawFilledCircle(screen, float32(x), float32(y), float32(p.Radius+2), render.ColorPostStroke, true)
			}
			vector.DrawFilledCircle(screen, float32(x), float32(y), float32(p.Radius), withAlpha(p.Colors[i], float64(a)), true)
		}
	case render.KindLines:
		for i, seg := range p.Lines {
			a := opacityAt(st.opacity, i)
			if a <= 0 {
				continue
			}
			x0, y0 := vp.ToDisplay(seg.From.X, seg.From.Y)
			x1, y1 := vp.ToDisplay(seg.To.X, seg.To.Y)
			vector.StrokeLine(screen, float32(x0), float32(y0), float32(x1), float32(y1), 1, withAlpha(p.Colors[i], float64(a)), true)
			vector.DrawFilledCircle(screen, float32(x1), float32(y1), 2, withAlpha(p.EndColor, float64(a)), true)
		}
	}
}

func opacityAt(values []float32, i int) float32 {
	if i < 0 || i >= len(values) {
		return 0
	}
	return values[i]
}

func withAlpha(c color.RGBA, a float64) color.NRGBA {
	if a > 1 {
		a = 1
	}
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(a * 255)}
}

// rect normalises two opposite corners into x, y, width, height.
func rect(x0, y0, x1, y1 float64) (float64, float64, float64, float64) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return x0, y0, x1 - x0, y1 - y0
}

// setViewport records a new view and forwards it to every layer. Layers
// debounce the re-bin themselves.
func (e *Engine) setViewport(vp binning.Viewport) {
	e.mu.Lock()
	e.viewport = vp
	controllers := append([]Controller(nil), e.controllers...)
	e.mu.Unlock()
	for _, c := range controllers {
		c.SetViewport(vp)
	}
}

// Capture saves the next drawn frame as a PNG in FrameCaptureDir.
func (e *Engine) Capture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FrameCaptureDir == "" {
		monitoring.Logf("[screen] capture requested without a capture directory")
		return
	}
	e.captureNext = true
}
