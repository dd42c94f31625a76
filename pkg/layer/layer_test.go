package layer

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/geoanim/pkg/animation"
	"github.com/sudorandom/geoanim/pkg/animation/animationtest"
	"github.com/sudorandom/geoanim/pkg/binning"
	"github.com/sudorandom/geoanim/pkg/config"
	"github.com/sudorandom/geoanim/pkg/cycle"
	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/render"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var epoch = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

type surface struct {
	mu      sync.Mutex
	prims   []*render.Primitives
	frames  []render.BinFrame
	opacity [][]float32
}

func (s *surface) SetPrimitives(_ string, p *render.Primitives) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prims = append(s.prims, p)
}

func (s *surface) SetBins(_ string, f render.BinFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *surface) UpdateOpacity(_ string, buf *render.OpacityBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opacity = append(s.opacity, buf.Snapshot())
}

func (s *surface) lastOpacity() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opacity) == 0 {
		return nil
	}
	return s.opacity[len(s.opacity)-1]
}

func (s *surface) opacityUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opacity)
}

func (s *surface) animatedFrames() []render.BinFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []render.BinFrame
	for _, f := range s.frames {
		if f.Step >= 0 {
			out = append(out, f)
		}
	}
	return out
}

func (s *surface) binFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func millis(d time.Duration) float64 {
	return float64(epoch.Add(d).UnixMilli())
}

// posts returns three posts at 00:30, 05:30 and 05:45 on the first day.
func posts() *dataset.Snapshot {
	return dataset.NewSnapshot([]string{"longitude", "latitude", "posted_date"}, []dataset.Record{
		{-73.95, 40.75, millis(30 * time.Minute)},
		{-73.90, 40.70, millis(5*time.Hour + 30*time.Minute)},
		{-73.85, 40.80, millis(5*time.Hour + 45*time.Minute)},
	})
}

func trips() *dataset.Snapshot {
	cols := []string{
		"pickup_datetime", "pickup_longitude", "pickup_latitude",
		"dropoff_datetime", "dropoff_longitude", "dropoff_latitude",
	}
	// Trips 2 and 3 share a pickup cell; every trip stays inside its cells.
	return dataset.NewSnapshot(cols, []dataset.Record{
		{millis(10 * time.Minute), -73.955, 40.755, millis(20 * time.Minute), -73.945, 40.745},
		{millis(70 * time.Minute), -73.905, 40.705, millis(80 * time.Minute), -73.915, 40.715},
		{millis(75 * time.Minute), -73.902, 40.708, millis(90 * time.Minute), -73.845, 40.815},
	})
}

func testViewport() binning.Viewport {
	return binning.Viewport{
		Width:  800,
		Height: 600,
		Bounds: binning.Bounds{
			UpperLeft:  binning.Point{X: -74.1, Y: 40.9},
			LowerRight: binning.Point{X: -73.7, Y: 40.6},
		},
	}
}

func newLayer(t *testing.T, d dataset.Descriptor, p config.Params) (*Layer, *surface, *animationtest.Scheduler) {
	t.Helper()
	sched := animationtest.New(epoch)
	surf := &surface{}
	l, err := New(Options{
		Descriptor: d,
		Params:     p,
		Animation:  config.DefaultAnimation(),
		Surface:    surf,
		Scheduler:  sched,
	})
	require.NoError(t, err)
	return l, surf, sched
}

func TestNewRejectsInvalidParams(t *testing.T) {
	p := config.DefaultParams()
	p.DisplayType = "sideways"
	_, err := New(Options{Descriptor: dataset.GeoPosts, Params: p, Animation: config.DefaultAnimation()})
	require.Error(t, err)
}

func TestSetDataRendersRawPoints(t *testing.T) {
	l, surf, _ := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())

	st := l.Status()
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, 3, st.Primitives)
	assert.Equal(t, "Stopped", st.Description)
	assert.Nil(t, st.Summary, "raw display has no bins")
	assert.Equal(t, []float32{0.1, 0.1, 0.1}, surf.lastOpacity())
}

func TestAnimateRawOpacity(t *testing.T) {
	l, surf, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	updates := surf.opacityUpdates()

	require.NoError(t, l.Animate(config.DefaultAnimation()))
	assert.Equal(t, updates, surf.opacityUpdates(), "no frame before the first tick")

	sched.RunPending()
	assert.Equal(t, []float32{0.15, 0, 0}, surf.lastOpacity())

	sched.Advance(5 * time.Second)
	assert.Equal(t, []float32{0, 0.15, 0.15}, surf.lastOpacity())
	assert.Equal(t, "05:00 - 06:00", l.Status().Description)
}

func TestStartThenStopBeforeFirstTick(t *testing.T) {
	l, surf, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	updates := surf.opacityUpdates()

	require.NoError(t, l.Animate(config.DefaultAnimation()))
	require.NoError(t, l.Action(ActionStop, 0))
	sched.Advance(10 * time.Second)

	assert.Equal(t, []float32{0.1, 0.1, 0.1}, surf.lastOpacity())
	assert.Equal(t, updates, surf.opacityUpdates(), "stop without a frame leaves the buffer alone")
	assert.Equal(t, animation.Stopped, l.Status().Clock.State)
	assert.Equal(t, 0, sched.Pending())
}

func TestStopRestoresFullDisplay(t *testing.T) {
	l, surf, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	require.NoError(t, l.Animate(config.DefaultAnimation()))
	sched.Advance(2 * time.Second)
	require.NoError(t, l.Action(ActionStop, 0))
	assert.Equal(t, []float32{0.1, 0.1, 0.1}, surf.lastOpacity())
}

func TestActions(t *testing.T) {
	l, surf, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())

	require.NoError(t, l.Action(ActionStep, 0))
	assert.Equal(t, animation.Paused, l.Status().Clock.State)
	assert.Equal(t, []float32{0.15, 0, 0}, surf.lastOpacity())

	require.NoError(t, l.Action(ActionJump, 5))
	assert.Equal(t, []float32{0, 0.15, 0.15}, surf.lastOpacity())

	require.NoError(t, l.Action(ActionStepBack, 0))
	assert.Equal(t, 4, l.Status().Clock.Step)
	assert.Equal(t, []float32{0, 0, 0}, surf.lastOpacity())

	require.NoError(t, l.Action(ActionPlay, 0))
	sched.RunPending()
	assert.Equal(t, animation.Playing, l.Status().Clock.State)

	require.NoError(t, l.Action(ActionPause, 0))
	assert.Equal(t, animation.Paused, l.Status().Clock.State)

	err := l.Action("rewind", 0)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestSetDataRestartsAnimation(t *testing.T) {
	l, surf, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	require.NoError(t, l.Animate(config.DefaultAnimation()))
	sched.Advance(5 * time.Second)
	require.Equal(t, 5, l.Status().Clock.Step)

	l.SetData(posts())
	sched.RunPending()
	assert.Equal(t, 0, l.Status().Clock.Step)
	assert.Equal(t, []float32{0.15, 0, 0}, surf.lastOpacity())
}

func TestSingleBinCycleDoesNotAnimate(t *testing.T) {
	l, _, sched := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	require.NoError(t, l.Animate(config.Animation{Cycle: "day", Steps: 1, SubSteps: 1, StepTime: "1s"}))
	sched.Advance(time.Minute)
	assert.Equal(t, animation.Stopped, l.Status().Clock.State)
}

func TestViewportDebounce(t *testing.T) {
	p := config.DefaultParams()
	p.DisplayProcess = config.ProcessBinned
	l, surf, sched := newLayer(t, dataset.TaxiTrips, p)
	l.SetData(trips())
	before := surf.binFrames()

	vp := testViewport()
	l.SetViewport(vp.Pan(10, 0))
	sched.Advance(100 * time.Millisecond)
	l.SetViewport(vp)
	sched.Advance(100 * time.Millisecond)
	assert.Equal(t, before, surf.binFrames(), "still debouncing")

	sched.Advance(100 * time.Millisecond)
	assert.Equal(t, before+1, surf.binFrames())
	got, ok := l.Viewport()
	require.True(t, ok)
	if diff := cmp.Diff(vp, got); diff != "" {
		t.Errorf("viewport mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, l.Bins().Len())
}

func TestFlushViewport(t *testing.T) {
	p := config.DefaultParams()
	p.DisplayProcess = config.ProcessBinned
	l, _, sched := newLayer(t, dataset.TaxiTrips, p)
	l.SetData(trips())
	l.SetViewport(testViewport())
	l.FlushViewport()
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, 3, l.Bins().Len())

	st := l.Status()
	require.NotNil(t, st.Summary)
	assert.Equal(t, 3, st.Summary.Bins)
	assert.Equal(t, 3, st.Summary.TotalPickups)
	assert.Equal(t, 3, st.Summary.TotalDropoffs)
}

func TestBinnedAnimation(t *testing.T) {
	p := config.DefaultParams()
	p.DisplayProcess = config.ProcessBinned
	p.Debounce = ""
	l, surf, sched := newLayer(t, dataset.TaxiTrips, p)
	l.SetData(trips())
	l.SetViewport(testViewport())

	require.NoError(t, l.Animate(config.DefaultAnimation()))
	sched.RunPending()
	frames := surf.animatedFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, 0, frames[0].Step)
	assert.Equal(t, "00:00 - 01:00", frames[0].Label)
	assert.Len(t, frames[0].Quads, 1)
	// Maxima cover every step, so step 0 is scaled against step 1's busier cell.
	assert.Equal(t, 2, frames[0].Maxima.Pickups)
	assert.InDelta(t, 0.5, frames[0].Quads[0].Opacity, 1e-9)

	sched.Advance(time.Second)
	frames = surf.animatedFrames()
	require.Len(t, frames, 2)
	assert.Len(t, frames[1].Quads, 2)

	require.NoError(t, l.Action(ActionStop, 0))
	assert.Equal(t, -1, l.Frame().Step)
	assert.Len(t, l.Frame().Quads, 3)
}

func TestUpdateParamsSwitchesMode(t *testing.T) {
	l, surf, _ := newLayer(t, dataset.TaxiTrips, config.DefaultParams())
	l.SetData(trips())
	l.SetViewport(testViewport())
	l.FlushViewport()
	assert.Equal(t, 3, l.Status().Primitives)

	p := config.DefaultParams()
	p.DisplayProcess = config.ProcessBinned
	require.NoError(t, l.UpdateParams(p))
	assert.Equal(t, 0, l.Status().Primitives)
	assert.Equal(t, 3, l.Bins().Len())

	p.DisplayType = config.DisplayVector
	p.DisplayProcess = config.ProcessRaw
	require.NoError(t, l.UpdateParams(p))
	assert.Equal(t, "lines", l.Status().Kind)
	assert.NotEmpty(t, surf.prims)

	p.Opacity = 2
	require.Error(t, l.UpdateParams(p))
}

func TestUpdateParamsStopsClockWhenAnimationFails(t *testing.T) {
	cols := []string{
		"pickup_datetime", "pickup_longitude", "pickup_latitude",
		"dropoff_datetime", "dropoff_longitude", "dropoff_latitude",
	}
	snap := dataset.NewSnapshot(cols, []dataset.Record{
		{millis(10 * time.Minute), -73.955, 40.755, nil, -73.945, 40.745},
		{millis(70 * time.Minute), -73.905, 40.705, nil, -73.915, 40.715},
		{millis(75 * time.Minute), -73.902, 40.708, nil, -73.845, 40.815},
	})
	l, surf, sched := newLayer(t, dataset.TaxiTrips, config.DefaultParams())
	l.SetData(snap)
	require.NoError(t, l.Animate(config.Animation{Cycle: "none", Steps: 6, SubSteps: 1, StepTime: "1s"}))
	sched.Advance(2 * time.Second)
	require.Equal(t, animation.Playing, l.Status().Clock.State)

	p := config.DefaultParams()
	p.DisplayType = config.DisplayDropoff
	err := l.UpdateParams(p)
	require.ErrorIs(t, err, cycle.ErrNoDateRange)
	assert.Equal(t, config.DisplayDropoff, l.Params().DisplayType)

	updates := surf.opacityUpdates()
	sched.Advance(10 * time.Second)
	st := l.Status()
	assert.Equal(t, animation.Stopped, st.Clock.State)
	assert.Equal(t, "Stopped", st.Description)
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, updates, surf.opacityUpdates())
	assert.Equal(t, []float32{0.1, 0.1, 0.1}, surf.lastOpacity())
}

func TestNearestRecord(t *testing.T) {
	l, _, _ := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	_, ok := l.NearestRecord(0, 0, 10)
	assert.False(t, ok, "no viewport yet")

	vp := testViewport()
	l.SetViewport(vp)
	l.FlushViewport()
	x, y := vp.ToDisplay(-73.90, 40.70)
	row, ok := l.NearestRecord(x+2, y-2, 5)
	require.True(t, ok)
	assert.Equal(t, 1, row)

	_, ok = l.NearestRecord(x+20, y, 5)
	assert.False(t, ok)
}

func TestPointerUsesVisibility(t *testing.T) {
	l, _, _ := newLayer(t, dataset.GeoPosts, config.DefaultParams())
	l.SetData(posts())
	require.NoError(t, l.Action(ActionStep, 0))

	h := l.Pointer(PointerEvent{Kind: PointerOver, Index: 1, Top: true})
	assert.Equal(t, -1, h.Current, "primitive 1 is hidden at step 0")

	h = l.Pointer(PointerEvent{Kind: PointerOver, Index: 0, Top: true})
	assert.Equal(t, 0, h.Current)
}
