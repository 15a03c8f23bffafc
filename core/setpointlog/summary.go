package setpointlog

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/dercontrol/core/model"
)

// Summary describes the values one field took over a set of records.
type Summary struct {
	Field   string  `json:"field"`
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Applied int     `json:"applied"`
}

// Summarize computes statistics of field f over recs. Records where f is
// unset are skipped.
func Summarize(recs []Record, f model.ControlField) Summary {
	s := Summary{Field: f.String()}
	vals := make([]float64, 0, len(recs))
	for _, r := range recs {
		v, ok := r.Limit.Get(f)
		if !ok {
			continue
		}
		vals = append(vals, v)
		if r.Applied {
			s.Applied++
		}
	}
	s.Count = len(vals)
	if s.Count == 0 {
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if s.Count == 1 {
		s.StdDev = 0
	}
	return s
}
