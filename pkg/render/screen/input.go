package screen

import (
	"math"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/sudorandom/geoanim/pkg/animation"
	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/layer"
	"github.com/sudorandom/geoanim/pkg/monitoring"
)

// ZoomStep is the zoom factor applied per wheel notch.
const ZoomStep = 1.1

type inputState struct {
	dragging     bool
	lastX, lastY int
}

func newInputState() inputState {
	return inputState{}
}

// keyActions maps the keys pressed this tick to layer actions. Space toggles
// between play and pause.
func keyActions(justPressed func(ebiten.Key) bool, playing bool) []string {
	var out []string
	if justPressed(ebiten.KeySpace) {
		if playing {
			out = append(out, layer.ActionPause)
		} else {
			out = append(out, layer.ActionPlay)
		}
	}
	if justPressed(ebiten.KeyS) {
		out = append(out, layer.ActionStop)
	}
	if justPressed(ebiten.KeyArrowRight) {
		out = append(out, layer.ActionStep)
	}
	if justPressed(ebiten.KeyArrowLeft) {
		out = append(out, layer.ActionStepBack)
	}
	if justPressed(ebiten.KeyHome) {
		out = append(out, layer.ActionJump)
	}
	return out
}

// zoomFactor converts a wheel delta to a zoom factor; scrolling up zooms in.
func zoomFactor(wheelY float64) float64 {
	return math.Pow(ZoomStep, wheelY)
}

func (e *Engine) snapshotControllers() ([]Controller, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Controller(nil), e.controllers...), append([]string(nil), e.ids...)
}

func (e *Engine) handleInput(now time.Time) {
	controllers, ids := e.snapshotControllers()

	playing := false
	statuses := make([]layer.Status, len(controllers))
	for i, c := range controllers {
		statuses[i] = c.Status()
		if statuses[i].Clock.State == animation.Playing {
			playing = true
		}
	}
	e.setStatuses(statuses)
	for _, action := range keyActions(inpututil.IsKeyJustPressed, playing) {
		e.dispatch(controllers, action)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyC) {
		e.Capture()
	}

	mx, my := ebiten.CursorPosition()
	if _, wy := ebiten.Wheel(); wy != 0 {
		vp := e.Viewport().Zoom(zoomFactor(wy), float64(mx), float64(my))
		e.setViewport(vp)
	}

	switch {
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft):
		e.input.dragging = true
		e.input.lastX, e.input.lastY = mx, my
		e.pointerAll(controllers, ids, layer.PointerEvent{Kind: layer.PointerDown, At: now})
	case inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft):
		e.input.dragging = false
		e.pointerAll(controllers, ids, layer.PointerEvent{Kind: layer.PointerClick, At: now})
	case e.input.dragging:
		dx, dy := float64(mx-e.input.lastX), float64(my-e.input.lastY)
		e.input.lastX, e.input.lastY = mx, my
		if dx != 0 || dy != 0 {
			e.setViewport(e.Viewport().Pan(dx, dy))
		}
		e.pointerAll(controllers, ids, layer.PointerEvent{Kind: layer.PointerPan, Delta: binning.Point{X: dx, Y: dy}, At: now})
	default:
		e.hover(controllers, ids, float64(mx), float64(my))
	}
}

func (e *Engine) dispatch(controllers []Controller, action string) {
	for _, c := range controllers {
		if err := c.Action(action, 0); err != nil {
			monitoring.Logf("[screen] %s failed: %v", action, err)
		}
	}
}

func (e *Engine) pointerAll(controllers []Controller, ids []string, ev layer.PointerEvent) {
	for i, c := range controllers {
		e.setCurrent(ids[i], c.Pointer(ev).Current)
	}
}

// hover moves the hover state of every layer to the primitive under the
// cursor. Only the top-most layer with a hit reports it as top.
func (e *Engine) hover(controllers []Controller, ids []string, px, py float64) {
	topTaken := false
	for i := len(controllers) - 1; i >= 0; i-- {
		c, id := controllers[i], ids[i]
		idx, ok := c.NearestPrimitive(px, py, e.PickRadius)
		if !ok {
			idx = -1
		}
		prev := e.hovered(id)
		if idx == prev {
			if ok {
				topTaken = true
			}
			continue
		}
		var h layer.Highlight
		if prev >= 0 {
			h = c.Pointer(layer.PointerEvent{Kind: layer.PointerOut, Index: prev})
		}
		if ok {
			h = c.Pointer(layer.PointerEvent{Kind: layer.PointerOver, Index: idx, Top: !topTaken})
			topTaken = true
		}
		e.setHovered(id, idx, h.Current)
	}
}

func (e *Engine) hovered(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked(id).hovered
}

func (e *Engine) setHovered(id string, idx, current int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stateLocked(id)
	st.hovered, st.current = idx, current
}

func (e *Engine) setCurrent(id string, current int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateLocked(id).current = current
}
