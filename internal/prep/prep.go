// Package prep cleans and normalizes raw data source records before any
// detector runs.
package prep

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// ErrEmptyBatch is returned when a data source carries no usable records.
var ErrEmptyBatch = errors.New("data source has no records")

// NormalizedField returns the derived field name holding the per-batch
// normalized value of a declared value field.
func NormalizedField(field string) string {
	return field + "_normalized"
}

// Prepare validates, cleans, orders, fills, and normalizes the records of a
// data source. The input is never mutated; every returned record is a copy.
//
// Policy, deliberately simple: nil entries are dropped, missing numeric
// value fields are filled with 0, and each value field gains a
// "<field>_normalized" companion computed as (x-mean)/std over the current
// batch (0 when the batch std is 0). Normalization uses batch statistics,
// not the historical baseline.
func Prepare(ds *detection.DataSource) ([]detection.Record, error) {
	if ds == nil || len(ds.Data) == 0 {
		return nil, ErrEmptyBatch
	}

	cleaned := make([]detection.Record, 0, len(ds.Data))
	for _, r := range ds.Data {
		if r == nil {
			continue
		}
		cleaned = append(cleaned, r.Clone())
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: all %d entries were null", ErrEmptyBatch, len(ds.Data))
	}

	// Stable sort keeps the arrival order of records sharing a timestamp.
	tsField := ds.TimestampField
	sort.SliceStable(cleaned, func(i, j int) bool {
		ti, iok := cleaned[i].Time(tsField)
		tj, jok := cleaned[j].Time(tsField)
		if !iok || !jok {
			return iok && !jok
		}
		return ti.Before(tj)
	})

	// Fill missing value fields with 0 before computing batch statistics,
	// so the fill participates in normalization like any other value.
	for _, field := range ds.ValueFields {
		for _, r := range cleaned {
			if _, ok := r.Float(field); !ok {
				r[field] = 0.0
			}
		}
	}

	for _, field := range ds.ValueFields {
		mean, std := batchStats(cleaned, field)
		for _, r := range cleaned {
			v, _ := r.Float(field)
			if std == 0 {
				r[NormalizedField(field)] = 0.0
			} else {
				r[NormalizedField(field)] = (v - mean) / std
			}
		}
	}

	return cleaned, nil
}

// batchStats computes the mean and population standard deviation of a value
// field across the batch.
func batchStats(records []detection.Record, field string) (mean, std float64) {
	n := float64(len(records))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range records {
		v, _ := r.Float(field)
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, r := range records {
		v, _ := r.Float(field)
		d := v - mean
		variance += d * d
	}
	variance /= n

	return mean, math.Sqrt(variance)
}

// FeatureMatrix extracts the normalized feature matrix of a prepared batch,
// one row per record and one column per value field.
func FeatureMatrix(records []detection.Record, valueFields []string) [][]float64 {
	matrix := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(valueFields))
		for j, field := range valueFields {
			v, _ := r.Float(NormalizedField(field))
			row[j] = v
		}
		matrix[i] = row
	}
	return matrix
}
