package sources

import "github.com/sudorandom/geoanim/pkg/dataset"

const (
	TaxiPath      = "geoapp/taxi"
	InstagramPath = "geoapp/instagram"

	// DefaultPageSize is the number of rows requested per REST page.
	DefaultPageSize = 50000
)

// Paths maps a dataset key to its REST resource.
var Paths = map[string]string{
	dataset.TaxiTrips.Key: TaxiPath,
	dataset.GeoPosts.Key:  InstagramPath,
}

// Fields lists the columns requested for a dataset.
func Fields(d dataset.Descriptor) []string {
	fields := []string{"_id"}
	for _, f := range []string{d.Date, d.X, d.Y, d.Date2, d.X2, d.Y2} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
