package dataset

import "github.com/sudorandom/geoanim/pkg/config"

// Descriptor names the columns a dataset uses. Datasets with a secondary
// coordinate pair (X2, Y2) are paired: each record is a pickup→dropoff vector.
type Descriptor struct {
	Key   string
	X, Y  string
	Date  string
	X2    string
	Y2    string
	Date2 string
}

// IsVector reports whether records carry a second endpoint.
func (d Descriptor) IsVector() bool { return d.X2 != "" && d.Y2 != "" }

var (
	// TaxiTrips describes pickup/dropoff trip records.
	TaxiTrips = Descriptor{
		Key:   "taxi",
		X:     "pickup_longitude",
		Y:     "pickup_latitude",
		Date:  "pickup_datetime",
		X2:    "dropoff_longitude",
		Y2:    "dropoff_latitude",
		Date2: "dropoff_datetime",
	}

	// GeoPosts describes geotagged social media posts.
	GeoPosts = Descriptor{
		Key:  "instagram",
		X:    "longitude",
		Y:    "latitude",
		Date: "posted_date",
	}
)

// Columns are resolved column indices. Date and Date2 are -1 when the dataset
// has no usable date column; X2, Y2 and Date2 are -1 unless Paired.
type Columns struct {
	X, Y, Date    int
	X2, Y2, Date2 int
	Paired        bool
}

type mappingKey struct {
	desc    Descriptor
	display config.DisplayType
	process config.DisplayProcess
}

// ExtractColumns resolves the columns used to draw a snapshot in the given mode.
// It returns nil when required coordinate columns are absent so callers can skip
// rendering. Results are cached on the snapshot.
func ExtractColumns(s *Snapshot, d Descriptor, t config.DisplayType, p config.DisplayProcess) *Columns {
	if s == nil || s.Columns == nil {
		return nil
	}
	key := mappingKey{desc: d, display: t, process: p}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.mappings[key]; ok {
		return c
	}
	c := resolve(s, d, t, p)
	if s.mappings == nil {
		s.mappings = make(map[mappingKey]*Columns)
	}
	s.mappings[key] = c
	return c
}

func resolve(s *Snapshot, d Descriptor, t config.DisplayType, p config.DisplayProcess) *Columns {
	lookup := func(name string) int {
		if i, ok := s.Column(name); ok {
			return i
		}
		return -1
	}
	c := &Columns{
		X: lookup(d.X), Y: lookup(d.Y), Date: lookup(d.Date),
		X2: -1, Y2: -1, Date2: -1,
	}

	if !d.IsVector() {
		if c.X < 0 || c.Y < 0 {
			return nil
		}
		return c
	}

	x2, y2, date2 := lookup(d.X2), lookup(d.Y2), lookup(d.Date2)
	if t == config.DisplayDropoff && p != config.ProcessBinned {
		if x2 < 0 || y2 < 0 {
			return nil
		}
		c.X, c.Y, c.Date = x2, y2, date2
		return c
	}
	if c.X < 0 || c.Y < 0 {
		return nil
	}
	if t == config.DisplayPickup && p != config.ProcessBinned {
		return c
	}
	if x2 < 0 || y2 < 0 {
		return nil
	}
	c.X2, c.Y2, c.Date2 = x2, y2, date2
	c.Paired = true
	return c
}
