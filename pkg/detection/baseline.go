package detection

import "time"

// PercentileRanks are the percentiles computed for every baseline metric.
var PercentileRanks = []int{25, 50, 75, 90, 95, 99}

// BaselineMetric holds the learned statistics for a single value field.
// A StdDev of 0 means the field showed no variation in the baseline window;
// detectors must treat it as "no normal variation", never divide by it.
type BaselineMetric struct {
	Field       string          `json:"field"`
	Mean        float64         `json:"mean"`
	StdDev      float64         `json:"std_dev"`
	Min         float64         `json:"min"`
	Max         float64         `json:"max"`
	Percentiles map[int]float64 `json:"percentiles"`
}

// BaselinePattern describes a detected periodic pattern in a value field.
type BaselinePattern struct {
	Field    string        `json:"field"`
	Kind     string        `json:"kind"` // "hour_of_day"
	Period   time.Duration `json:"period"`
	Values   []float64     `json:"values"`   // one expected value per bucket
	Strength float64       `json:"strength"` // 0..1, share of variance explained
}

// HistoricalBaseline is the per (organization, data source) statistical
// reference for detection. Baselines are replaced wholesale, never mutated
// in place, so concurrent readers always see a consistent snapshot.
type HistoricalBaseline struct {
	OrganizationID string            `json:"organization_id"`
	DataSourceID   string            `json:"data_source_id"`
	Metrics        []BaselineMetric  `json:"metrics"`
	Patterns       []BaselinePattern `json:"patterns,omitempty"`
	SampleCount    int               `json:"sample_count"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Metric returns the baseline metric for a field, or nil when untracked.
func (b *HistoricalBaseline) Metric(field string) *BaselineMetric {
	for i := range b.Metrics {
		if b.Metrics[i].Field == field {
			return &b.Metrics[i]
		}
	}
	return nil
}

// PercentileOf estimates the percentile rank of a value for a field by
// interpolating against the stored percentile ladder. Returns 50 for
// untracked fields.
func (b *HistoricalBaseline) PercentileOf(field string, value float64) float64 {
	m := b.Metric(field)
	if m == nil || len(m.Percentiles) == 0 {
		return 50
	}
	if value <= m.Min {
		return 0
	}
	if value >= m.Max {
		return 100
	}
	prevRank, prevVal := 0, m.Min
	for _, rank := range PercentileRanks {
		pv, ok := m.Percentiles[rank]
		if !ok {
			continue
		}
		if value <= pv {
			if pv == prevVal {
				return float64(rank)
			}
			frac := (value - prevVal) / (pv - prevVal)
			return float64(prevRank) + frac*float64(rank-prevRank)
		}
		prevRank, prevVal = rank, pv
	}
	if m.Max == prevVal {
		return float64(prevRank)
	}
	frac := (value - prevVal) / (m.Max - prevVal)
	return float64(prevRank) + frac*float64(100-prevRank)
}
