package binning

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary describes the distribution of bin values in a result.
type Summary struct {
	Bins           int     `json:"bins"`
	TotalPickups   int     `json:"totalPickups"`
	TotalDropoffs  int     `json:"totalDropoffs"`
	MeanPickups    float64 `json:"meanPickups"`
	StdDevPickups  float64 `json:"stdDevPickups"`
	MeanFlux       float64 `json:"meanFlux"`
	P90Pickups     float64 `json:"p90Pickups"`
	WeightedVecLen float64 `json:"weightedVecLen"`
}

// Summarize computes distribution statistics over the populated bins.
func Summarize(r *Result) Summary {
	var s Summary
	if r.Len() == 0 {
		return s
	}
	bins := r.Sorted()
	pickups := make([]float64, len(bins))
	flux := make([]float64, len(bins))
	var vecs, weights []float64
	for i, b := range bins {
		pickups[i] = float64(b.Pickups)
		flux[i] = float64(b.Flux())
		s.TotalPickups += b.Pickups
		s.TotalDropoffs += b.Dropoffs
		if b.Count > 0 && !r.FullLength {
			vecs = append(vecs, b.VecLen)
			weights = append(weights, float64(b.Count))
		}
	}
	s.Bins = len(bins)
	if len(pickups) > 1 {
		s.MeanPickups, s.StdDevPickups = stat.MeanStdDev(pickups, nil)
	} else {
		s.MeanPickups = pickups[0]
	}
	s.MeanFlux = stat.Mean(flux, nil)

	sorted := append([]float64(nil), pickups...)
	sort.Float64s(sorted)
	s.P90Pickups = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	if len(vecs) > 0 {
		s.WeightedVecLen = stat.Mean(vecs, weights)
	}
	return s
}
