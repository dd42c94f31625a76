// Package animation drives cyclic playback: a Clock steps through time bins at a
// fixed wall-clock rate and hands each step to a frame callback.
package animation

import (
	"sync"
	"time"

	"github.com/sudorandom/geoanim/pkg/monitoring"
)

// State is the playback state of a Clock.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "play"
	case Paused:
		return "pause"
	default:
		return "stop"
	}
}

// Config describes one playback run.
type Config struct {
	NumBins  int
	SubSteps int
	// StepTime is the wall-clock duration of one frame.
	StepTime time.Duration
	// Loops pauses playback after Loops full cycles; zero loops forever.
	Loops     int
	StartStep int
}

// Frame is handed to the frame callback for every rendered step.
type Frame struct {
	Step     int
	NumBins  int
	SubSteps int
	// Gen identifies the run that produced the frame; see Clock.Current.
	Gen      uint64
	Rendered int
	Skipped  int
}

// Status is a point-in-time view of a Clock.
type Status struct {
	State        State     `json:"-"`
	PlayState    string    `json:"playState"`
	Step         int       `json:"step"`
	NumBins      int       `json:"numBins"`
	SubSteps     int       `json:"substeps"`
	Rendered     int       `json:"renderedSteps"`
	Skipped      int       `json:"skippedSteps"`
	NextStepTime time.Time `json:"nextStepTime"`
}

// Clock paces an animation. It never holds its own lock while invoking the
// frame or stop callbacks, so callbacks may call back into the Clock.
type Clock struct {
	mu      sync.Mutex
	sched   Scheduler
	onFrame func(Frame)
	onStop  func()

	cfg          Config
	configured   bool
	state        State
	current      int
	next         int
	nextStepTime time.Time
	rendered     int
	skipped      int
	gen          uint64
	timer        Timer
}

// NewClock returns a stopped clock. onFrame receives every rendered step;
// onStop is invoked synchronously by Stop.
func NewClock(sched Scheduler, onFrame func(Frame), onStop func()) *Clock {
	if sched == nil {
		sched = RealScheduler()
	}
	if onFrame == nil {
		onFrame = func(Frame) {}
	}
	if onStop == nil {
		onStop = func() {}
	}
	return &Clock{sched: sched, onFrame: onFrame, onStop: onStop}
}

// Start begins playback at cfg.StartStep. The first frame is scheduled, never
// drawn inside Start. Configurations with at most one bin leave the clock
// untouched and report false.
func (c *Clock) Start(cfg Config) bool {
	if cfg.NumBins <= 1 {
		monitoring.Logf("[clock] not starting: %d bins", cfg.NumBins)
		return false
	}
	if cfg.SubSteps <= 0 {
		cfg.SubSteps = 1
	}
	if cfg.StepTime <= 0 {
		cfg.StepTime = time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.cfg = cfg
	c.configured = true
	c.state = Playing
	c.next = mod(cfg.StartStep, cfg.NumBins)
	c.current = c.next
	c.rendered = 0
	c.skipped = 0
	c.nextStepTime = c.sched.Now()
	c.scheduleLocked(0)
	monitoring.Logf("[clock] playing %d bins (%d substeps) every %s", cfg.NumBins, cfg.SubSteps, cfg.StepTime)
	return true
}

// Configure installs cfg on a stopped clock without starting it, so Step can
// begin from step 0.
func (c *Clock) Configure(cfg Config) bool {
	if cfg.NumBins <= 1 {
		return false
	}
	if cfg.SubSteps <= 0 {
		cfg.SubSteps = 1
	}
	if cfg.StepTime <= 0 {
		cfg.StepTime = time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Stopped {
		return false
	}
	c.cfg = cfg
	c.configured = true
	return true
}

// Pause cancels the pending frame and keeps the current one on screen.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		return
	}
	c.stopTimerLocked()
	c.state = Paused
}

// Play resumes a paused clock, or restarts a stopped one from step 0.
func (c *Clock) Play() bool {
	c.mu.Lock()
	switch {
	case c.state == Paused:
		c.gen++
		c.state = Playing
		c.nextStepTime = c.sched.Now()
		c.scheduleLocked(0)
		c.mu.Unlock()
		return true
	case c.state == Stopped && c.configured:
		cfg := c.cfg
		cfg.StartStep = 0
		c.mu.Unlock()
		return c.Start(cfg)
	default:
		c.mu.Unlock()
		return false
	}
}

// Stop cancels playback and synchronously invokes the stop callback, which is
// expected to restore the unanimated display.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	c.state = Stopped
	rendered, skipped := c.rendered, c.skipped
	c.mu.Unlock()

	monitoring.Logf("[clock] stopped after %d frames (%d skipped)", rendered, skipped)
	c.onStop()
}

// Step renders the next frame and leaves the clock paused. A stopped clock
// renders step 0.
func (c *Clock) Step() bool {
	c.mu.Lock()
	if !c.configured {
		c.mu.Unlock()
		return false
	}
	target := c.next
	if c.state == Stopped {
		target = 0
	}
	return c.renderOnceLocked(target, false)
}

// StepBack renders the frame before the current one and leaves the clock paused.
func (c *Clock) StepBack() bool {
	c.mu.Lock()
	if !c.configured {
		c.mu.Unlock()
		return false
	}
	target := mod(c.current-1, c.cfg.NumBins)
	if c.state == Stopped {
		target = 0
	}
	return c.renderOnceLocked(target, false)
}

// Jump renders step n. Playback continues from n if the clock was playing. A
// stopped clock ignores jumps.
func (c *Clock) Jump(n int) bool {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return false
	}
	target := mod(n, c.cfg.NumBins)
	if target == c.current {
		c.mu.Unlock()
		return false
	}
	return c.renderOnceLocked(target, c.state == Playing)
}

// renderOnceLocked draws target outside the lock. It unlocks c.mu.
func (c *Clock) renderOnceLocked(target int, keepPlaying bool) bool {
	c.cancelLocked()
	c.current = target
	c.next = (target + 1) % c.cfg.NumBins
	c.nextStepTime = c.sched.Now().Add(c.cfg.StepTime)
	if keepPlaying {
		c.state = Playing
		c.scheduleLocked(c.cfg.StepTime)
	} else {
		c.state = Paused
	}
	f := c.frameLocked(target)
	c.mu.Unlock()

	c.onFrame(f)
	return true
}

// Current reports whether a frame from run gen is still the live one. Frame
// consumers check it to drop frames that raced with Stop or a restart.
func (c *Clock) Current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.state != Stopped
}

// Status returns a snapshot of the clock.
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:        c.state,
		PlayState:    c.state.String(),
		Step:         c.current,
		NumBins:      c.cfg.NumBins,
		SubSteps:     c.cfg.SubSteps,
		Rendered:     c.rendered,
		Skipped:      c.skipped,
		NextStepTime: c.nextStepTime,
	}
}

// State returns the playback state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Clock) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	step := c.next
	c.current = step
	c.rendered++
	f := c.frameLocked(step)

	n := c.cfg.NumBins
	c.next = (step + 1) % n
	now := c.sched.Now()
	c.nextStepTime = c.nextStepTime.Add(c.cfg.StepTime)
	delay := c.nextStepTime.Sub(now)
	if delay < 0 {
		// Skip whole frames to catch up with the wall clock.
		behind := (-delay + c.cfg.StepTime - 1) / c.cfg.StepTime
		c.next = (c.next + int(behind%time.Duration(n))) % n
		c.nextStepTime = c.nextStepTime.Add(behind * c.cfg.StepTime)
		c.skipped += int(behind)
		delay = c.nextStepTime.Sub(now)
	}

	if c.cfg.Loops > 0 && c.rendered >= c.cfg.Loops*n {
		c.state = Paused
		monitoring.Logf("[clock] finished %d loops", c.cfg.Loops)
	} else {
		c.scheduleLocked(delay)
	}
	c.mu.Unlock()

	c.onFrame(f)
}

func (c *Clock) frameLocked(step int) Frame {
	return Frame{
		Step:     step,
		NumBins:  c.cfg.NumBins,
		SubSteps: c.cfg.SubSteps,
		Gen:      c.gen,
		Rendered: c.rendered,
		Skipped:  c.skipped,
	}
}

// cancelLocked stops the pending timer and invalidates in-flight frames.
func (c *Clock) cancelLocked() {
	c.stopTimerLocked()
	c.gen++
}

func (c *Clock) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Clock) scheduleLocked(d time.Duration) {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.sched.AfterFunc(d, func() { c.tick(gen) })
}

func mod(a, n int) int {
	if n <= 0 {
		return 0
	}
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
