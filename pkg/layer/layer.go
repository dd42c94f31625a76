// Package layer binds a dataset to the binning, animation and render
// machinery. One Layer serves one dataset kind, described by a Descriptor.
package layer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sudorandom/geoanim/pkg/animation"
	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/cycle"
	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

// ErrUnknownAction is returned by Action for unrecognised actions.
var ErrUnknownAction = errors.New("layer: unknown animation action")

var errNotAnimatable = errors.New("layer: data has no animatable dates")

// Animation actions accepted by Action.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionStep     = "step"
	ActionStepBack = "stepback"
	ActionJump     = "jump"
	ActionStop     = "stop"
)

// Options configure a Layer.
type Options struct {
	Descriptor dataset.Descriptor
	Params     config.Params
	Animation  config.Animation
	Surface    render.Surface
	// Scheduler drives the animation clock and viewport debouncing.
	Scheduler animation.Scheduler
}

// Layer renders one dataset. All mutations are serialised by its mutex; the
// animation clock calls back into the layer without holding its own lock.
type Layer struct {
	ID   string
	Desc dataset.Descriptor

	mu       sync.Mutex
	surface  render.Surface
	sched    animation.Scheduler
	clock    *animation.Clock
	assigner *cycle.Assigner

	params   config.Params
	anim     config.Animation
	snapshot *dataset.Snapshot
	cols     *dataset.Columns
	viewport binning.Viewport
	hasView  bool

	prims     *render.Primitives
	opacity   *render.OpacityBuffer
	lastBins  *binning.Result
	lastFrame render.BinFrame

	cyc       *cycle.Cycle
	timeBins  cycle.Assignment
	timeBins2 cycle.Assignment
	animMax   *binning.Maxima
	// animated is set once a clock frame has changed the display.
	animated bool

	pendingView  *binning.Viewport
	viewTimer    animation.Timer
	highlight    Highlight
	renderedBins int
}

// New creates a layer. The parameters and animation settings are validated.
func New(opts Options) (*Layer, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid display parameters: %w", err)
	}
	if err := opts.Animation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid animation: %w", err)
	}
	if opts.Surface == nil {
		opts.Surface = render.Discard{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = animation.RealScheduler()
	}
	l := &Layer{
		ID:        uuid.NewString(),
		Desc:      opts.Descriptor,
		surface:   opts.Surface,
		sched:     opts.Scheduler,
		assigner:  cycle.NewAssigner(),
		params:    opts.Params,
		anim:      opts.Animation,
		prims:     &render.Primitives{},
		opacity:   render.NewOpacityBuffer(0),
		highlight: NewHighlight(),
		lastFrame: render.BinFrame{Step: -1},
	}
	l.clock = animation.NewClock(opts.Scheduler, l.onFrame, l.onStop)
	return l, nil
}

func (l *Layer) logf(format string, v ...interface{}) {
	monitoring.Logf("[layer %s] "+format, append([]interface{}{l.Desc.Key}, v...)...)
}

// SetData replaces the snapshot. Derived caches are dropped; a running
// animation restarts from step 0 on the new data.
func (l *Layer) SetData(s *dataset.Snapshot) {
	if err := l.setData(s); err != nil {
		l.logf("animation reset failed: %v", err)
		l.clock.Stop()
	}
}

func (l *Layer) setData(s *dataset.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = s
	l.assigner.Reset()
	l.timeBins, l.timeBins2, l.animMax = nil, nil, nil
	l.highlight = NewHighlight()
	l.renderLocked()
	l.logf("loaded %d records", s.Len())

	if l.clock.State() == animation.Stopped {
		l.cyc = nil
		return nil
	}
	if err := l.prepareAnimationLocked(); err != nil {
		return err
	}
	if !l.cyc.Animates() {
		return errNotAnimatable
	}
	cfg := l.clockConfigLocked()
	cfg.StartStep = 0
	l.clock.Start(cfg)
	return nil
}

// Snapshot returns the bound data.
func (l *Layer) Snapshot() *dataset.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot
}

// Params returns the display parameters.
func (l *Layer) Params() config.Params {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params
}

// UpdateParams changes the display parameters and redraws. A running animation
// restarts from its current step; if the new parameters leave nothing to
// animate the clock is stopped.
func (l *Layer) UpdateParams(p config.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := l.updateParams(p); err != nil {
		l.logf("animation reset failed: %v", err)
		l.clock.Stop()
		if errors.Is(err, errNotAnimatable) {
			return nil
		}
		return err
	}
	return nil
}

func (l *Layer) updateParams(p config.Params) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = p
	l.animMax = nil
	l.renderLocked()
	if l.clock.State() == animation.Stopped {
		return nil
	}
	if err := l.prepareAnimationLocked(); err != nil {
		return err
	}
	if !l.cyc.Animates() {
		return errNotAnimatable
	}
	cfg := l.clockConfigLocked()
	cfg.StartStep = l.clock.Status().Step
	l.clock.Start(cfg)
	return nil
}

// Viewport returns the current viewport.
func (l *Layer) Viewport() (binning.Viewport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport, l.hasView
}

// SetViewport schedules a re-bin for a new viewport. Requests arriving within
// the debounce interval replace each other; only the last one is applied.
func (l *Layer) SetViewport(vp binning.Viewport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.params.DebounceDuration()
	if d <= 0 {
		l.applyViewportLocked(vp)
		return
	}
	l.pendingView = &vp
	if l.viewTimer != nil {
		l.viewTimer.Stop()
	}
	l.viewTimer = l.sched.AfterFunc(d, l.FlushViewport)
}

// FlushViewport applies a pending viewport immediately.
func (l *Layer) FlushViewport() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.viewTimer != nil {
		l.viewTimer.Stop()
		l.viewTimer = nil
	}
	if l.pendingView == nil {
		return
	}
	vp := *l.pendingView
	l.pendingView = nil
	l.applyViewportLocked(vp)
}

func (l *Layer) applyViewportLocked(vp binning.Viewport) {
	if !vp.Valid() {
		l.logf("ignoring invalid viewport %dx%d", vp.Width, vp.Height)
		return
	}
	l.viewport, l.hasView = vp, true
	if !l.params.Binned() {
		return
	}
	if l.clock.State() == animation.Stopped || l.cyc == nil {
		l.renderLocked()
		return
	}
	l.primeMaximaLocked()
}

// Render redraws the unanimated display.
func (l *Layer) Render() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renderLocked()
}

func (l *Layer) renderLocked() {
	l.animated = false
	l.cols = dataset.ExtractColumns(l.snapshot, l.Desc, l.params.DisplayType, l.params.DisplayProcess)
	empty := render.BinFrame{Step: -1}
	if l.cols == nil {
		l.prims = &render.Primitives{}
		l.opacity = render.NewOpacityBuffer(0)
		l.lastBins, l.lastFrame = nil, empty
		l.surface.SetPrimitives(l.ID, l.prims)
		l.surface.SetBins(l.ID, empty)
		return
	}

	if l.params.Binned() {
		if l.prims.Len() > 0 {
			l.prims = &render.Primitives{}
			l.opacity = render.NewOpacityBuffer(0)
			l.surface.SetPrimitives(l.ID, l.prims)
		}
		l.binLocked(nil)
		return
	}

	var bad []bool
	if l.params.Vectors() && l.cols.Paired {
		bad = l.snapshot.BadRecords(l.filter(), l.cols)
	}
	l.prims = render.BuildPrimitives(l.snapshot, l.cols, l.params, render.PointColor(l.Desc), bad)
	l.opacity = render.NewOpacityBuffer(l.prims.Len())
	l.opacity.Fill(l.params.Opacity, l.prims.Hidden)
	l.lastBins, l.lastFrame = nil, empty
	l.surface.SetBins(l.ID, empty)
	l.surface.SetPrimitives(l.ID, l.prims)
	l.surface.UpdateOpacity(l.ID, l.opacity)
}

func (l *Layer) filter() dataset.BadRecordFilter {
	return dataset.BadRecordFilter{MaxJumpDegrees: l.params.MaxJumpDegrees}
}

func (l *Layer) binner() binning.Binner {
	return binning.NewBinner(l.params)
}

// binLocked bins and draws; anim is nil for the unanimated display.
func (l *Layer) binLocked(anim *binning.AnimContext) {
	if !l.hasView {
		return
	}
	res := l.binner().Bin(l.snapshot, l.cols, l.viewport, anim)
	frame := render.ProjectBins(res, render.ProjectOptions{
		Display:    l.params.DisplayType,
		FullLength: l.params.VectorLength == config.VectorFull,
	})
	if anim != nil {
		frame.Step = anim.Step
		frame.Label = l.cyc.Describe(anim.Step)
	}
	l.lastBins, l.lastFrame = res, frame
	l.renderedBins++
	l.surface.SetBins(l.ID, frame)
}

// Animate prepares time bins for a and starts playback. A cycle with a single
// bin leaves the layer unanimated.
func (l *Layer) Animate(a config.Animation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anim = a
	if err := l.prepareAnimationLocked(); err != nil {
		return err
	}
	if l.cyc == nil {
		return nil
	}
	l.clock.Start(l.clockConfigLocked())
	return nil
}

func (l *Layer) clockConfigLocked() animation.Config {
	if l.cyc == nil {
		return animation.Config{}
	}
	return animation.Config{
		NumBins:  l.cyc.NumBins,
		SubSteps: l.cyc.SubSteps,
		StepTime: l.cyc.FrameTime,
		Loops:    l.cyc.Loops,
	}
}

// prepareAnimationLocked builds the cycle and time-bin arrays for the bound
// data. With no usable data the cycle is cleared.
func (l *Layer) prepareAnimationLocked() error {
	l.cyc, l.timeBins, l.timeBins2, l.animMax = nil, nil, nil, nil
	if l.cols == nil || l.snapshot.Len() == 0 {
		return nil
	}
	start, end, ok := l.snapshot.CycleDateRange(l.cols.Date)
	c, err := cycle.New(l.anim, start, end, ok)
	if err != nil {
		return fmt.Errorf("failed to prepare %s animation: %w", l.Desc.Key, err)
	}
	l.cyc = c

	switch {
	case l.params.Binned():
		l.timeBins = l.assigner.Assign(l.snapshot, c, cycle.Request{Date: l.cols.Date})
		if l.cols.Paired {
			l.timeBins2 = l.assigner.Assign(l.snapshot, c, cycle.Request{Date: l.cols.Date2})
		}
		l.primeMaximaLocked()
	case l.prims.Interleaved:
		l.timeBins = l.assigner.Assign(l.snapshot, c, cycle.Request{
			Date: l.cols.Date, Date2: l.cols.Date2, Layout: cycle.LayoutInterleaved, Length: l.prims.Len(),
		})
	default:
		l.timeBins = l.assigner.Assign(l.snapshot, c, cycle.Request{Date: l.cols.Date, Length: l.prims.Len()})
	}
	l.logf("prepared %s cycle: %d bins of %s", c.Unit, c.NumBins, time.Duration(c.BinWidth)*time.Millisecond)
	return nil
}

// primeMaximaLocked bins every SubSteps-th step so animated intensities share
// one scale from the first frame.
func (l *Layer) primeMaximaLocked() {
	l.animMax = nil
	if l.cyc == nil || !l.hasView || !l.params.Binned() {
		return
	}
	b := l.binner()
	for i := 0; i < l.cyc.NumBins; i += l.cyc.SubSteps {
		res := b.Bin(l.snapshot, l.cols, l.viewport, l.animContextLocked(i, i == 0))
		m := res.Maxima
		l.animMax = &m
	}
}

func (l *Layer) animContextLocked(step int, reset bool) *binning.AnimContext {
	return &binning.AnimContext{
		TimeBins:  l.timeBins,
		TimeBins2: l.timeBins2,
		NumBins:   l.cyc.NumBins,
		Step:      step,
		SubSteps:  l.cyc.SubSteps,
		ResetMax:  reset,
		Carry:     l.animMax,
	}
}

func (l *Layer) onFrame(f animation.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.clock.Current(f.Gen) || l.cyc == nil || f.NumBins != l.cyc.NumBins {
		return
	}
	l.animated = true
	if l.params.Binned() {
		ctx := l.animContextLocked(f.Step, false)
		l.binLocked(ctx)
		if l.lastBins != nil {
			m := l.lastBins.Maxima
			l.animMax = &m
		}
		return
	}
	if l.opacity.Len() == 0 {
		return
	}
	opac := render.AnimatedOpacity(l.anim.Opacity, l.params.Opacity)
	l.opacity.ApplyStep(l.timeBins, f.NumBins, f.Step, f.SubSteps, opac, l.prims.Hidden)
	l.surface.UpdateOpacity(l.ID, l.opacity)
}

// onStop restores the unanimated display. Nothing is redrawn when no frame
// was shown since the last full render.
func (l *Layer) onStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.animMax = nil
	if !l.animated {
		return
	}
	l.animated = false
	if l.params.Binned() {
		l.binLocked(nil)
		return
	}
	if l.opacity.Len() == 0 {
		return
	}
	l.opacity.Fill(l.params.Opacity, l.prims.Hidden)
	l.surface.UpdateOpacity(l.ID, l.opacity)
}

// Action controls playback: play, pause, step, stepback, jump (to step) or stop.
func (l *Layer) Action(action string, step int) error {
	switch action {
	case ActionPlay:
		if l.clock.State() == animation.Paused && l.clock.Play() {
			return nil
		}
		return l.Animate(l.currentAnimation())
	case ActionPause:
		l.clock.Pause()
	case ActionStep, ActionStepBack:
		if l.clock.State() == animation.Stopped {
			if err := l.configureClock(); err != nil {
				return err
			}
		}
		if action == ActionStep {
			l.clock.Step()
		} else {
			l.clock.StepBack()
		}
	case ActionJump:
		l.clock.Jump(step)
	case ActionStop:
		l.clock.Stop()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}

func (l *Layer) currentAnimation() config.Animation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.anim
}

func (l *Layer) configureClock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.prepareAnimationLocked(); err != nil {
		return err
	}
	if l.cyc != nil {
		l.clock.Configure(l.clockConfigLocked())
	}
	return nil
}

// Status describes the layer for status displays and APIs.
type Status struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"`
	Records     int              `json:"records"`
	Primitives  int              `json:"primitives"`
	Kind        string           `json:"kind"`
	Bins        int              `json:"bins"`
	Description string           `json:"description"`
	Clock       animation.Status `json:"clock"`
	Cycle       *cycle.Cycle     `json:"-"`
	Highlight   int              `json:"highlight"`
	// Summary describes the bins of the current binned frame.
	Summary *binning.Summary `json:"summary,omitempty"`
}

// Status returns a snapshot of the layer state.
func (l *Layer) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	cs := l.clock.Status()
	desc := "Stopped"
	if cs.State != animation.Stopped && l.cyc != nil {
		desc = l.cyc.Describe(cs.Step)
	}
	var sum *binning.Summary
	if l.lastBins != nil {
		s := binning.Summarize(l.lastBins)
		sum = &s
	}
	return Status{
		ID:          l.ID,
		Key:         l.Desc.Key,
		Records:     l.snapshot.Len(),
		Primitives:  l.prims.Len(),
		Kind:        l.prims.Kind.String(),
		Bins:        l.lastBins.Len(),
		Summary:     sum,
		Description: desc,
		Clock:       cs,
		Cycle:       l.cyc,
		Highlight:   l.highlight.Current,
	}
}

// Bins returns the most recent binning result, or nil.
func (l *Layer) Bins() *binning.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastBins
}

// Frame returns the most recently projected bins.
func (l *Layer) Frame() render.BinFrame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFrame
}

// Opacity returns a copy of the primitive opacities.
func (l *Layer) Opacity() []float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opacity.Snapshot()
}

// Pointer applies a pointer event to the highlight state. Hovering a primitive
// that is not currently drawn is treated as leaving it.
func (l *Layer) Pointer(ev PointerEvent) Highlight {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch ev.Kind {
	case PointerOver:
		ev.Visible = l.opacity.At(ev.Index) > 0
	case PointerClick:
		ev.Visible = l.prims.Len() > 0
	}
	l.highlight = l.highlight.Handle(ev)
	return l.highlight
}

// Highlight returns the highlight state.
func (l *Layer) Highlight() Highlight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.highlight
}

// NearestRecord returns the snapshot row of the visible point closest to the
// pixel (px, py), within radius pixels.
func (l *Layer) NearestRecord(px, py, radius float64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.nearestLocked(px, py, radius)
	if !ok {
		return -1, false
	}
	return l.prims.Records[i], true
}

// NearestPrimitive is NearestRecord returning the primitive index.
func (l *Layer) NearestPrimitive(px, py, radius float64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nearestLocked(px, py, radius)
}

func (l *Layer) nearestLocked(px, py, radius float64) (int, bool) {
	if !l.hasView || l.prims.Kind != render.KindPoints {
		return -1, false
	}
	best, bestDist := -1, math.Inf(1)
	for i, p := range l.prims.Points {
		if l.opacity.At(i) <= 0 {
			continue
		}
		x, y := l.viewport.ToDisplay(p.X, p.Y)
		d := math.Hypot(x-px, y-py)
		if d <= radius && d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}
