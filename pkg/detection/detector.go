package detection

import "context"

// DetectionInput is everything a detector needs to score one batch. The
// batch and baseline are shared read-only across concurrently running
// detectors and must not be mutated.
type DetectionInput struct {
	BatchID  string
	Source   *DataSource
	Batch    []Record // prepared records, sorted by timestamp
	Baseline *HistoricalBaseline
	Config   *DetectionConfig
}

// Detector is the common contract for pluggable detection algorithms.
// Anomaly scores are normalized to [0, 1]; confidence never exceeds
// MaxConfidence. A detector returning an error aborts only its own
// contribution, never the batch.
type Detector interface {
	// Kind identifies the algorithm in configuration and the registry.
	Kind() AlgorithmKind

	// Detect scores the prepared batch against the baseline and returns
	// zero or more anomalies.
	Detect(ctx context.Context, in *DetectionInput) ([]DetectedAnomaly, error)
}
