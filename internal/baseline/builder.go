// Package baseline computes and caches per-field historical statistics used
// as the "normal" reference during detection.
package baseline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// ErrInsufficientData signals that the data window holds fewer records than
// the configured minimum. It is a distinct, non-exceptional outcome: the
// caller must not score against a baseline built from too little data.
var ErrInsufficientData = errors.New("insufficient data for baseline")

// minPatternSamples is the least number of records needed before hour-of-day
// periodicity detection is attempted.
const minPatternSamples = 48

// Build computes a fresh baseline from a data source's historical window:
// per-field mean, population standard deviation, min, max, and the standard
// percentile ladder, plus hour-of-day periodicity patterns when the window
// is long enough. minSamples below 1 is treated as 1.
func Build(ds *detection.DataSource, minSamples int) (*detection.HistoricalBaseline, error) {
	if ds == nil {
		return nil, fmt.Errorf("nil data source")
	}
	if minSamples < 1 {
		minSamples = 1
	}

	records := make([]detection.Record, 0, len(ds.Data))
	for _, r := range ds.Data {
		if r != nil {
			records = append(records, r)
		}
	}
	if len(records) < minSamples {
		return nil, fmt.Errorf("%w: have %d records, need %d", ErrInsufficientData, len(records), minSamples)
	}

	b := &detection.HistoricalBaseline{
		OrganizationID: ds.OrganizationID,
		DataSourceID:   ds.ID,
		SampleCount:    len(records),
		UpdatedAt:      time.Now().UTC(),
	}

	for _, field := range ds.ValueFields {
		values := make([]float64, 0, len(records))
		for _, r := range records {
			if v, ok := r.Float(field); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		b.Metrics = append(b.Metrics, buildMetric(field, values))

		if pattern := hourOfDayPattern(records, ds.TimestampField, field); pattern != nil {
			b.Patterns = append(b.Patterns, *pattern)
		}
	}

	return b, nil
}

func buildMetric(field string, values []float64) detection.BaselineMetric {
	n := float64(len(values))

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	percentiles := make(map[int]float64, len(detection.PercentileRanks))
	for _, rank := range detection.PercentileRanks {
		percentiles[rank] = percentile(sorted, rank)
	}

	return detection.BaselineMetric{
		Field:       field,
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: percentiles,
	}
}

// percentile returns the rank-th percentile of ascending-sorted values using
// linear interpolation between closest ranks.
func percentile(sorted []float64, rank int) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := float64(rank) / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// hourOfDayPattern detects a daily periodicity by bucketing values per hour
// of day. A pattern is reported only when the window is long enough and the
// between-bucket variance explains a meaningful share of the total variance.
func hourOfDayPattern(records []detection.Record, tsField, valueField string) *detection.BaselinePattern {
	if len(records) < minPatternSamples {
		return nil
	}

	sums := make([]float64, 24)
	counts := make([]int, 24)
	var all []float64
	for _, r := range records {
		ts, tok := r.Time(tsField)
		v, vok := r.Float(valueField)
		if !tok || !vok {
			continue
		}
		h := ts.UTC().Hour()
		sums[h] += v
		counts[h]++
		all = append(all, v)
	}
	if len(all) < minPatternSamples {
		return nil
	}

	covered := 0
	for _, c := range counts {
		if c > 0 {
			covered++
		}
	}
	// A pattern over a handful of hours is noise, not periodicity.
	if covered < 12 {
		return nil
	}

	var total float64
	for _, v := range all {
		total += v
	}
	grandMean := total / float64(len(all))

	var totalVar float64
	for _, v := range all {
		d := v - grandMean
		totalVar += d * d
	}
	totalVar /= float64(len(all))
	if totalVar == 0 {
		return nil
	}

	buckets := make([]float64, 24)
	var betweenVar float64
	for h := 0; h < 24; h++ {
		if counts[h] == 0 {
			buckets[h] = grandMean
			continue
		}
		buckets[h] = sums[h] / float64(counts[h])
		d := buckets[h] - grandMean
		betweenVar += d * d * float64(counts[h])
	}
	betweenVar /= float64(len(all))

	strength := betweenVar / totalVar
	if strength < 0.2 {
		return nil
	}

	return &detection.BaselinePattern{
		Field:    valueField,
		Kind:     "hour_of_day",
		Period:   24 * time.Hour,
		Values:   buckets,
		Strength: math.Min(strength, 1),
	}
}
