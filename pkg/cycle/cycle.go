// Package cycle partitions records into time bins of a repeating period (a day,
// a week, ...) so an animation can reveal them step by step.
package cycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/sudorandom/geoanim/pkg/config"
)

// Units understood by New.
const (
	UnitNone  = "none"
	UnitYear  = "year"
	UnitMonth = "month"
	UnitWeek  = "week"
	UnitDay   = "day"
	UnitHour  = "hour"
)

// ErrNoDateRange is returned for a "none" cycle with neither configured nor
// data-derived bounds.
var ErrNoDateRange = errors.New("cycle: no date range available")

type unit struct {
	length time.Duration
	layout string
	start  time.Time
}

var (
	defaultStart = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	// Sunday of the week containing defaultStart.
	weekStart = time.Date(2012, 12, 30, 0, 0, 0, 0, time.UTC)

	units = map[string]unit{
		UnitNone:  {layout: "Mon 01-02 15:04", start: defaultStart},
		UnitYear:  {length: 365 * 24 * time.Hour, layout: "Mon 01-02 15:04", start: defaultStart},
		UnitMonth: {length: 30 * 24 * time.Hour, layout: "02 15:04", start: defaultStart},
		UnitWeek:  {length: 7 * 24 * time.Hour, layout: "Mon 15:04", start: weekStart},
		UnitDay:   {length: 24 * time.Hour, layout: "15:04", start: defaultStart},
		UnitHour:  {length: time.Hour, layout: "04:05", start: defaultStart},
	}
)

// Bin is one time slice of the cycle.
type Bin struct {
	Index     int    `json:"index"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	StartDesc string `json:"startDesc"`
	EndDesc   string `json:"endDesc"`
}

// Cycle is a prepared animation period: where it starts, how long it is and how
// it is divided into bins. Start, Range and BinWidth are epoch milliseconds.
type Cycle struct {
	Unit      string        `json:"unit"`
	Start     int64         `json:"start"`
	Range     int64         `json:"range"`
	BinWidth  int64         `json:"binWidth"`
	Steps     int           `json:"steps"`
	SubSteps  int           `json:"substeps"`
	NumBins   int           `json:"numBins"`
	FrameTime time.Duration `json:"frameTime"`
	Loops     int           `json:"loops,omitempty"`
	Opacity   float64       `json:"opacity,omitempty"`
	Bins      []Bin         `json:"bins"`
}

// New prepares a cycle. dataStart and dataEnd bound the loaded records and are
// only used by "none" cycles without configured dates; pass ok=false when the
// data carries no dates.
func New(a config.Animation, dataStart, dataEnd int64, ok bool) (*Cycle, error) {
	name := a.Cycle
	u, known := units[name]
	if !known {
		name, u = UnitNone, units[UnitNone]
	}
	steps := max(a.Steps, 1)
	subSteps := max(a.SubSteps, 1)

	c := &Cycle{
		Unit:      name,
		Start:     u.start.UnixMilli(),
		Range:     u.length.Milliseconds(),
		Steps:     steps,
		SubSteps:  subSteps,
		NumBins:   steps * subSteps,
		FrameTime: a.StepDuration() / time.Duration(subSteps),
		Loops:     a.Loops,
		Opacity:   a.Opacity,
	}

	if name == UnitNone {
		start, end, err := noneRange(a, dataStart, dataEnd, ok)
		if err != nil {
			return nil, err
		}
		c.Start = start
		c.Range = end - start + 1
	}
	if c.Range <= 0 {
		return nil, fmt.Errorf("cycle: empty range for %s", name)
	}

	c.BinWidth = (c.Range + int64(c.NumBins) - 1) / int64(c.NumBins)
	c.Bins = make([]Bin, c.NumBins)
	binStart := c.Start
	for i := range c.Bins {
		binEnd := binStart + c.BinWidth
		c.Bins[i] = Bin{
			Index:     i,
			Start:     binStart,
			End:       binEnd,
			StartDesc: time.UnixMilli(binStart).UTC().Format(u.layout),
			EndDesc:   time.UnixMilli(binEnd).UTC().Format(u.layout),
		}
		binStart = binEnd
	}
	return c, nil
}

func noneRange(a config.Animation, dataStart, dataEnd int64, ok bool) (int64, int64, error) {
	if a.DateMin != "" || a.DateMax != "" {
		start, end := defaultStart, defaultStart.AddDate(1, 0, 0)
		if a.DateMin != "" {
			t, err := time.Parse(time.RFC3339, a.DateMin)
			if err != nil {
				return 0, 0, fmt.Errorf("cycle: invalid dateMin: %w", err)
			}
			start = t
		}
		if a.DateMax != "" {
			t, err := time.Parse(time.RFC3339, a.DateMax)
			if err != nil {
				return 0, 0, fmt.Errorf("cycle: invalid dateMax: %w", err)
			}
			end = t
		}
		return start.UnixMilli(), end.UnixMilli(), nil
	}
	if !ok {
		return 0, 0, ErrNoDateRange
	}
	return dataStart, dataEnd, nil
}

// Animates reports whether the cycle has more than one bin to step through.
func (c *Cycle) Animates() bool { return c != nil && c.NumBins > 1 }

// Describe labels the window shown at step, e.g. "13:00 - 14:00".
func (c *Cycle) Describe(step int) string {
	if c == nil || c.NumBins == 0 {
		return "Stopped"
	}
	step = mod(step, c.NumBins)
	last := (step + c.SubSteps - 1) % c.NumBins
	return c.Bins[step].StartDesc + " - " + c.Bins[last].EndDesc
}

// InAnimationBin reports whether a record in time bin bin is shown at step when
// subSteps adjacent bins are visible at once. The window wraps around the end of
// the cycle. Bins outside [0, numBins) are never visible.
func InAnimationBin(bin int32, numBins, step, subSteps int) bool {
	b := int(bin)
	if b < 0 || b >= numBins {
		return false
	}
	return (b >= step && b < step+subSteps) || b+numBins < step+subSteps
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
