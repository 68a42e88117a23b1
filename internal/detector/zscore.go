package detector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Compile-time interface guard.
var _ detection.Detector = (*ZScore)(nil)

// ZScore is the statistical detector: it flags a point anomaly on any record
// whose value lies more than a sensitivity-derived number of baseline
// standard deviations from the baseline mean. A field with zero baseline
// variation yields z=0 and is never flagged.
type ZScore struct{}

// NewZScore creates the statistical detector.
func NewZScore() *ZScore {
	return &ZScore{}
}

// Kind implements detection.Detector.
func (z *ZScore) Kind() detection.AlgorithmKind {
	return detection.AlgorithmStatistical
}

// Detect implements detection.Detector. Flagged fields of one record are
// grouped into a single anomaly whose per-field contributions are the
// fields' |z| shares, normalized to sum to 1.0.
func (z *ZScore) Detect(ctx context.Context, in *detection.DetectionInput) ([]detection.DetectedAnomaly, error) {
	threshold := in.Config.Threshold()

	var anomalies []detection.DetectedAnomaly
	for _, record := range in.Batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var fields []detection.AffectedField
		var zscores []float64
		for _, metric := range in.Baseline.Metrics {
			value, ok := record.Float(metric.Field)
			if !ok {
				continue
			}
			score := zScore(value, metric.Mean, metric.StdDev)
			if math.Abs(score) <= threshold {
				continue
			}
			fields = append(fields, detection.AffectedField{
				FieldName:      metric.Field,
				ExpectedValue:  metric.Mean,
				ActualValue:    value,
				DeviationScore: math.Abs(score),
			})
			zscores = append(zscores, score)
		}
		if len(fields) == 0 {
			continue
		}

		normalizeContributions(fields)

		// The most deviant field drives severity, confidence, and evidence.
		top := 0
		for i := range zscores {
			if math.Abs(zscores[i]) > math.Abs(zscores[top]) {
				top = i
			}
		}
		absZ := math.Abs(zscores[top])
		ratio := absZ / threshold
		metric := in.Baseline.Metric(fields[top].FieldName)

		ts, _ := record.Time(in.Source.TimestampField)

		a := detection.DetectedAnomaly{
			ID:             uuid.NewString(),
			Type:           detection.AnomalyPoint,
			Severity:       severityFromRatio(ratio),
			Confidence:     detection.CapConfidence(absZ / threshold * 0.8),
			Score:          scoreFromRatio(ratio),
			Timestamp:      ts,
			Algorithm:      string(detection.AlgorithmStatistical),
			AffectedFields: fields,
			Explanation: detection.Explanation{
				Summary: fmt.Sprintf("%s deviates %.2f standard deviations from baseline mean %.2f",
					fields[top].FieldName, zscores[top], metric.Mean),
				ZScore:      zscores[top],
				Percentile:  in.Baseline.PercentileOf(fields[top].FieldName, fields[top].ActualValue),
				Probability: tailProbability(absZ),
				ConfidenceInterval: [2]float64{
					metric.Mean - threshold*metric.StdDev,
					metric.Mean + threshold*metric.StdDev,
				},
				ContributingFactors: []string{
					fmt.Sprintf("statistical: |z|=%.2f exceeds threshold %.2f on %s",
						absZ, threshold, strings.Join(anomalyFieldNames(fields), ", ")),
				},
			},
		}

		if in.Config.SeasonalityAware {
			a.Explanation.PatternDeviation = patternDeviation(in.Baseline, fields[top].FieldName, ts, fields[top].ActualValue)
		}

		anomalies = append(anomalies, a)
	}

	return anomalies, nil
}

// zScore returns (value-mean)/std, or 0 when std is 0: a field with no
// normal variation must not divide by zero or flag from normalization alone.
func zScore(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}

// severityFromRatio maps |z|/threshold to a severity tier.
func severityFromRatio(ratio float64) detection.Severity {
	switch {
	case ratio > 2.0:
		return detection.SeverityCritical
	case ratio > 1.5:
		return detection.SeverityHigh
	case ratio > 1.2:
		return detection.SeverityMedium
	default:
		return detection.SeverityLow
	}
}

// scoreFromRatio normalizes |z|/threshold into a [0,1] anomaly score so
// scores are comparable across detectors. A ratio of 2 or more saturates.
func scoreFromRatio(ratio float64) float64 {
	return math.Min(1, ratio/2)
}

// tailProbability is the two-sided normal tail probability of observing a
// value at least |z| standard deviations out.
func tailProbability(absZ float64) float64 {
	return math.Erfc(absZ / math.Sqrt2)
}

// normalizeContributions sets each field's contribution to its share of the
// summed deviation, so contributions sum to 1.0 per anomaly.
func normalizeContributions(fields []detection.AffectedField) {
	var total float64
	for _, f := range fields {
		total += f.DeviationScore
	}
	if total == 0 {
		equal := 1.0 / float64(len(fields))
		for i := range fields {
			fields[i].Contribution = equal
		}
		return
	}
	for i := range fields {
		fields[i].Contribution = fields[i].DeviationScore / total
	}
}

func anomalyFieldNames(fields []detection.AffectedField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.FieldName
	}
	return names
}

// patternDeviation describes how the value compares to the learned
// hour-of-day expectation, when one exists for the field.
func patternDeviation(b *detection.HistoricalBaseline, field string, ts time.Time, value float64) string {
	for _, p := range b.Patterns {
		if p.Field != field || p.Kind != "hour_of_day" || len(p.Values) != 24 {
			continue
		}
		hour := ts.UTC().Hour()
		return fmt.Sprintf("expected ~%.2f for hour %02d, observed %.2f", p.Values[hour], hour, value)
	}
	return ""
}
