package detector

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/prep"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Compile-time interface guard.
var _ detection.Detector = (*IsolationForest)(nil)

// Isolation forest tuning. Overridable per call through Algorithm.Parameters
// ("trees", "sample_size", "score_threshold", "seed").
const (
	defaultTrees          = 100
	defaultSampleSize     = 256
	defaultScoreThreshold = 0.62
	defaultSeed           = 42
)

// minForestBatch is the smallest batch an isolation forest can partition
// meaningfully.
const minForestBatch = 8

// IsolationForest is the isolation-style multivariate detector. It grows
// random partition trees over the normalized feature matrix of the batch;
// records isolated by unusually short paths score close to 1. Per-field
// attribution is not available from path lengths, so contributions are
// spread equally across all value fields.
type IsolationForest struct{}

// NewIsolationForest creates the isolation-style detector.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{}
}

// Kind implements detection.Detector.
func (f *IsolationForest) Kind() detection.AlgorithmKind {
	return detection.AlgorithmIsolationForest
}

// Detect implements detection.Detector. The forest is grown from the batch
// itself with a fixed seed, so repeated runs over an unchanged batch produce
// identical scores.
func (f *IsolationForest) Detect(ctx context.Context, in *detection.DetectionInput) ([]detection.DetectedAnomaly, error) {
	if len(in.Batch) < minForestBatch {
		return nil, nil
	}
	if len(in.Source.ValueFields) == 0 {
		return nil, nil
	}

	params := algorithmParams(in.Config, detection.AlgorithmIsolationForest)
	trees := intParam(params, "trees", defaultTrees)
	sampleSize := intParam(params, "sample_size", defaultSampleSize)
	scoreThreshold := floatParam(params, "score_threshold", defaultScoreThreshold)
	seed := int64(intParam(params, "seed", defaultSeed))

	matrix := prep.FeatureMatrix(in.Batch, in.Source.ValueFields)

	forest, err := growForest(matrix, trees, sampleSize, seed)
	if err != nil {
		return nil, fmt.Errorf("grow isolation forest: %w", err)
	}

	var anomalies []detection.DetectedAnomaly
	for i, row := range matrix {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := forest.score(row)
		if score < scoreThreshold {
			continue
		}

		record := in.Batch[i]
		ts, _ := record.Time(in.Source.TimestampField)

		anomalies = append(anomalies, detection.DetectedAnomaly{
			ID:             uuid.NewString(),
			Type:           detection.AnomalyContextual,
			Severity:       severityFromScore(score),
			Confidence:     detection.CapConfidence(score),
			Score:          score,
			Timestamp:      ts,
			Algorithm:      string(detection.AlgorithmIsolationForest),
			AffectedFields: equalContributionFields(record, in.Baseline, in.Source.ValueFields),
			Explanation: detection.Explanation{
				Summary: fmt.Sprintf("record isolated with path-length score %.3f across %d value fields",
					score, len(in.Source.ValueFields)),
				Probability: 1 - score,
				ContributingFactors: []string{
					fmt.Sprintf("isolation_forest: score %.3f >= threshold %.2f", score, scoreThreshold),
				},
			},
		})
	}

	return anomalies, nil
}

// severityFromScore maps a normalized [0,1] anomaly score to a severity.
func severityFromScore(score float64) detection.Severity {
	switch {
	case score >= 0.85:
		return detection.SeverityCritical
	case score >= 0.75:
		return detection.SeverityHigh
	case score >= 0.68:
		return detection.SeverityMedium
	default:
		return detection.SeverityLow
	}
}

// equalContributionFields builds the affected-field list with contributions
// spread equally across all value fields, used by multivariate detectors
// that lack per-field attribution.
func equalContributionFields(record detection.Record, b *detection.HistoricalBaseline, valueFields []string) []detection.AffectedField {
	contribution := 1.0 / float64(len(valueFields))
	fields := make([]detection.AffectedField, len(valueFields))
	for i, name := range valueFields {
		value, _ := record.Float(name)
		var expected, deviation float64
		if m := b.Metric(name); m != nil {
			expected = m.Mean
			deviation = math.Abs(zScore(value, m.Mean, m.StdDev))
		}
		fields[i] = detection.AffectedField{
			FieldName:      name,
			ExpectedValue:  expected,
			ActualValue:    value,
			DeviationScore: deviation,
			Contribution:   contribution,
		}
	}
	return fields
}

// -- forest internals (random partition trees over the feature matrix) --

type forest struct {
	trees         []*forestNode
	avgPathLength float64
}

type forestNode struct {
	splitFeature int
	splitValue   float64
	left, right  *forestNode
	size         int // leaf only
}

func growForest(matrix [][]float64, nTrees, sampleSize int, seed int64) (*forest, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("empty feature matrix")
	}
	nFeatures := len(matrix[0])
	if sampleSize > len(matrix) {
		sampleSize = len(matrix)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	rng := rand.New(rand.NewSource(seed))
	trees := make([]*forestNode, nTrees)
	for i := range trees {
		indices := rng.Perm(len(matrix))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = matrix[idx]
		}
		trees[i] = growNode(sample, nFeatures, 0, maxDepth, rng)
	}

	return &forest{
		trees:         trees,
		avgPathLength: averagePathLength(float64(sampleSize)),
	}, nil
}

func growNode(data [][]float64, nFeatures, depth, maxDepth int, rng *rand.Rand) *forestNode {
	if depth >= maxDepth || len(data) <= 1 {
		return &forestNode{size: len(data)}
	}

	feature := rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &forestNode{size: len(data)}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &forestNode{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         growNode(left, nFeatures, depth+1, maxDepth, rng),
		right:        growNode(right, nFeatures, depth+1, maxDepth, rng),
	}
}

// score returns the normalized anomaly score 2^(-E(h)/c(n)) for a sample.
func (f *forest) score(sample []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(sample, tree, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.avgPathLength)
}

func pathLength(sample []float64, n *forestNode, depth int) float64 {
	if n.left == nil && n.right == nil {
		return float64(depth) + averagePathLength(float64(n.size))
	}
	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, depth+1)
	}
	return pathLength(sample, n.right, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful BST
// search: c(n) = 2*H(n-1) - 2*(n-1)/n.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// -- shared parameter helpers --

// algorithmParams returns the Parameters map of the named algorithm from
// the configuration, or nil when unset.
func algorithmParams(cfg *detection.DetectionConfig, kind detection.AlgorithmKind) map[string]float64 {
	for _, a := range cfg.Algorithms {
		if a.Kind == kind {
			return a.Parameters
		}
	}
	return nil
}

func intParam(params map[string]float64, name string, fallback int) int {
	if v, ok := params[name]; ok && v > 0 {
		return int(v)
	}
	return fallback
}

func floatParam(params map[string]float64, name string, fallback float64) float64 {
	if v, ok := params[name]; ok && v > 0 {
		return v
	}
	return fallback
}
