// Package config holds the display and animation settings recognised by the engine
// and loads them from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DisplayType selects which endpoint(s) of a record are drawn.
type DisplayType string

const (
	DisplayPickup  DisplayType = "pickup"
	DisplayDropoff DisplayType = "dropoff"
	DisplayBoth    DisplayType = "both"
	DisplayVector  DisplayType = "vector"
)

// DisplayProcess selects raw primitives or aggregated grid bins.
type DisplayProcess string

const (
	ProcessRaw    DisplayProcess = "raw"
	ProcessBinned DisplayProcess = "binned"
)

// VectorLength selects how mean displacement lines are sized in binned vector mode.
type VectorLength string

const (
	VectorScaled VectorLength = "scaled"
	VectorFull   VectorLength = "full"
)

const (
	// MinGridBins is the coarsest grid the binner will build along the short screen axis.
	MinGridBins = 5
	// DefaultGridBins is used when NumBins is unset.
	DefaultGridBins = 15
	// DefaultMaxJumpDegrees is the displacement beyond which a vector is treated as a GPS fault.
	DefaultMaxJumpDegrees = 1.0

	maxFileSize = 1 * 1024 * 1024
)

// Params are the display parameters of one layer.
type Params struct {
	DisplayType    DisplayType    `json:"displayType"`
	DisplayProcess DisplayProcess `json:"displayProcess"`
	NumBins        int            `json:"numBins"`
	MaxPoints      int            `json:"maxPoints"`
	MaxVectors     int            `json:"maxVectors"`
	Opacity        float64        `json:"opacity"`
	VectorLength   VectorLength   `json:"vectorLength"`

	// MaxJumpDegrees is the bad-record displacement threshold.
	MaxJumpDegrees float64 `json:"maxJumpDegrees"`
	// Debounce is a duration string like "150ms" applied to viewport changes.
	Debounce string `json:"debounce,omitempty"`
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		DisplayType:    DisplayPickup,
		DisplayProcess: ProcessRaw,
		NumBins:        DefaultGridBins,
		MaxPoints:      100000,
		MaxVectors:     50000,
		Opacity:        0.1,
		VectorLength:   VectorScaled,
		MaxJumpDegrees: DefaultMaxJumpDegrees,
		Debounce:       "150ms",
	}
}

// GridBins returns the effective grid resolution, never below MinGridBins.
func (p Params) GridBins() int {
	n := p.NumBins
	if n == 0 {
		n = DefaultGridBins
	}
	if n < MinGridBins {
		n = MinGridBins
	}
	return n
}

// Binned reports whether the layer renders aggregated bins.
func (p Params) Binned() bool { return p.DisplayProcess == ProcessBinned }

// Vectors reports whether displacement vectors are computed and drawn.
func (p Params) Vectors() bool { return p.DisplayType == DisplayVector }

// DebounceDuration parses Debounce, returning 0 when unset.
func (p Params) DebounceDuration() time.Duration {
	if p.Debounce == "" {
		return 0
	}
	d, err := time.ParseDuration(p.Debounce)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	switch p.DisplayType {
	case DisplayPickup, DisplayDropoff, DisplayBoth, DisplayVector:
	default:
		return fmt.Errorf("displayType must be pickup, dropoff, both or vector, got %q", p.DisplayType)
	}
	switch p.DisplayProcess {
	case ProcessRaw, ProcessBinned:
	default:
		return fmt.Errorf("displayProcess must be raw or binned, got %q", p.DisplayProcess)
	}
	switch p.VectorLength {
	case VectorScaled, VectorFull:
	default:
		return fmt.Errorf("vectorLength must be scaled or full, got %q", p.VectorLength)
	}
	if p.NumBins != 0 && p.NumBins < MinGridBins {
		return fmt.Errorf("numBins must be at least %d, got %d", MinGridBins, p.NumBins)
	}
	if p.MaxPoints < 0 {
		return fmt.Errorf("maxPoints must be non-negative, got %d", p.MaxPoints)
	}
	if p.MaxVectors < 0 {
		return fmt.Errorf("maxVectors must be non-negative, got %d", p.MaxVectors)
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return fmt.Errorf("opacity must be between 0 and 1, got %f", p.Opacity)
	}
	if p.MaxJumpDegrees < 0 {
		return fmt.Errorf("maxJumpDegrees must be non-negative, got %f", p.MaxJumpDegrees)
	}
	if p.Debounce != "" {
		if _, err := time.ParseDuration(p.Debounce); err != nil {
			return fmt.Errorf("invalid debounce '%s': %w", p.Debounce, err)
		}
	}
	return nil
}

// Animation describes a cyclic playback.
type Animation struct {
	// Cycle is one of none, year, month, week, day or hour.
	Cycle string `json:"cycle"`
	// Steps is the number of primary steps in one cycle.
	Steps int `json:"steps"`
	// SubSteps is the number of frames per step; adjacent frames overlap.
	SubSteps int `json:"substeps"`
	// StepTime is the wall-clock duration of one step, e.g. "1s".
	StepTime string `json:"steptime"`
	// Loops stops playback after this many cycles; 0 plays forever.
	Loops int `json:"loops,omitempty"`
	// Opacity of visible primitives while animating; 0 derives it from the display opacity.
	Opacity float64 `json:"opacity,omitempty"`
	// DateMin and DateMax bound a "none" cycle (RFC3339). Empty means use the data range.
	DateMin string `json:"dateMin,omitempty"`
	DateMax string `json:"dateMax,omitempty"`
}

// DefaultAnimation plays back one day in hourly steps.
func DefaultAnimation() Animation {
	return Animation{
		Cycle:    "day",
		Steps:    24,
		SubSteps: 1,
		StepTime: "1s",
	}
}

// StepDuration parses StepTime, defaulting to one second.
func (a Animation) StepDuration() time.Duration {
	d, err := time.ParseDuration(a.StepTime)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// Validate checks the animation settings. A cycle with a single bin is valid here;
// the clock treats it as a no-op.
func (a Animation) Validate() error {
	switch a.Cycle {
	case "none", "year", "month", "week", "day", "hour":
	default:
		return fmt.Errorf("cycle must be none, year, month, week, day or hour, got %q", a.Cycle)
	}
	if a.Steps < 0 || a.SubSteps < 0 || a.Loops < 0 {
		return fmt.Errorf("steps, substeps and loops must be non-negative")
	}
	if a.StepTime != "" {
		if _, err := time.ParseDuration(a.StepTime); err != nil {
			return fmt.Errorf("invalid steptime '%s': %w", a.StepTime, err)
		}
	}
	if a.Opacity < 0 || a.Opacity > 1 {
		return fmt.Errorf("animation opacity must be between 0 and 1, got %f", a.Opacity)
	}
	for _, s := range []string{a.DateMin, a.DateMax} {
		if s == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid date %q: %w", s, err)
		}
	}
	return nil
}

// File is the on-disk configuration.
type File struct {
	Display   Params    `json:"display"`
	Animation Animation `json:"animation"`
}

// Default returns a File populated with defaults.
func Default() *File {
	return &File{Display: DefaultParams(), Animation: DefaultAnimation()}
}

// Load reads a JSON configuration file. Fields omitted from the file keep their
// defaults, so partial configs are safe.
func Load(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Display.Validate(); err != nil {
		return nil, fmt.Errorf("invalid display configuration: %w", err)
	}
	if err := cfg.Animation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid animation configuration: %w", err)
	}
	return cfg, nil
}
