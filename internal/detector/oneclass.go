package detector

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Compile-time interface guard.
var _ detection.Detector = (*OneClass)(nil)

// OneClass is the one-class-style multivariate detector: a hypersphere
// stand-in that measures each record's RMS distance from the baseline
// centroid in baseline-sigma units and flags records outside the
// sensitivity-derived radius. It honors the multivariate detector contract
// (full feature matrix in, scored flags out, equal per-field contributions)
// without claiming to be a trained SVM.
type OneClass struct{}

// NewOneClass creates the one-class-style detector.
func NewOneClass() *OneClass {
	return &OneClass{}
}

// Kind implements detection.Detector.
func (o *OneClass) Kind() detection.AlgorithmKind {
	return detection.AlgorithmOneClass
}

// Detect implements detection.Detector.
func (o *OneClass) Detect(ctx context.Context, in *detection.DetectionInput) ([]detection.DetectedAnomaly, error) {
	if len(in.Source.ValueFields) == 0 {
		return nil, nil
	}

	// Radius in sigma units; fields with zero baseline variation contribute
	// zero distance, never a division by zero.
	radius := in.Config.Threshold()
	if params := algorithmParams(in.Config, detection.AlgorithmOneClass); params != nil {
		radius = floatParam(params, "radius", radius)
	}

	var anomalies []detection.DetectedAnomaly
	for _, record := range in.Batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var sumSq float64
		dims := 0
		for _, metric := range in.Baseline.Metrics {
			value, ok := record.Float(metric.Field)
			if !ok {
				continue
			}
			z := zScore(value, metric.Mean, metric.StdDev)
			sumSq += z * z
			dims++
		}
		if dims == 0 {
			continue
		}

		distance := math.Sqrt(sumSq / float64(dims))
		if distance <= radius {
			continue
		}

		ratio := distance / radius
		ts, _ := record.Time(in.Source.TimestampField)

		anomalies = append(anomalies, detection.DetectedAnomaly{
			ID:             uuid.NewString(),
			Type:           detection.AnomalyContextual,
			Severity:       severityFromRatio(ratio),
			Confidence:     detection.CapConfidence(ratio * 0.75),
			Score:          scoreFromRatio(ratio),
			Timestamp:      ts,
			Algorithm:      string(detection.AlgorithmOneClass),
			AffectedFields: equalContributionFields(record, in.Baseline, in.Source.ValueFields),
			Explanation: detection.Explanation{
				Summary: fmt.Sprintf("record lies %.2f sigma from the baseline centroid (radius %.2f)",
					distance, radius),
				Probability: tailProbability(distance),
				ContributingFactors: []string{
					fmt.Sprintf("one_class: centroid distance %.2f > radius %.2f", distance, radius),
				},
			},
		})
	}

	return anomalies, nil
}
