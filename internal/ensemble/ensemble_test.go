package ensemble

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

func anomalyAt(ts time.Time, algorithm string, confidence, score float64, fields ...string) detection.DetectedAnomaly {
	affected := make([]detection.AffectedField, len(fields))
	for i, f := range fields {
		affected[i] = detection.AffectedField{FieldName: f, Contribution: 1.0 / float64(len(fields))}
	}
	return detection.DetectedAnomaly{
		ID:             algorithm + "-" + ts.Format(time.RFC3339),
		Type:           detection.AnomalyPoint,
		Severity:       detection.SeverityHigh,
		Confidence:     confidence,
		Score:          score,
		Timestamp:      ts,
		Algorithm:      algorithm,
		AffectedFields: affected,
		Explanation: detection.Explanation{
			ContributingFactors: []string{algorithm + ": evidence"},
		},
	}
}

func TestCombine_MergesAgreeingDetectors(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []detection.DetectedAnomaly{
		anomalyAt(ts, "statistical", 0.6, 0.7, "value"),
		anomalyAt(ts, "isolation_forest", 0.7, 0.8, "value"),
	}

	out := Combine(in)
	if len(out) != 1 {
		t.Fatalf("combined = %d anomalies, want 1", len(out))
	}

	a := out[0]
	if a.Algorithm != AlgorithmName {
		t.Errorf("algorithm = %s, want ensemble", a.Algorithm)
	}
	// avg(0.6, 0.7) + 0.1 = 0.75
	if math.Abs(a.Confidence-0.75) > 1e-9 {
		t.Errorf("confidence = %v, want 0.75", a.Confidence)
	}
	if a.Score != 0.8 {
		t.Errorf("score = %v, want max input 0.8", a.Score)
	}

	joined := strings.Join(a.Explanation.ContributingFactors, " | ")
	if !strings.Contains(joined, "2 algorithms agreed") {
		t.Errorf("factors missing agreement note: %s", joined)
	}
	if !strings.Contains(joined, "statistical: evidence") || !strings.Contains(joined, "isolation_forest: evidence") {
		t.Errorf("factors not a union of inputs: %s", joined)
	}
}

func TestCombine_ConfidenceCapAndFloor(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []detection.DetectedAnomaly{
		anomalyAt(ts, "statistical", 0.95, 0.9, "value"),
		anomalyAt(ts, "one_class", 0.92, 0.85, "value"),
	}

	out := Combine(in)
	if len(out) != 1 {
		t.Fatalf("combined = %d, want 1", len(out))
	}

	a := out[0]
	if a.Confidence > detection.MaxConfidence {
		t.Errorf("confidence %v exceeds cap", a.Confidence)
	}
	// Boosted average must not fall below the strongest input (within
	// floating rounding).
	if a.Confidence < 0.95-1e-9 {
		t.Errorf("confidence %v below max input 0.95", a.Confidence)
	}
}

func TestCombine_DistinctGroupsPassThrough(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []detection.DetectedAnomaly{
		anomalyAt(ts, "statistical", 0.6, 0.7, "value"),
		anomalyAt(ts.Add(time.Minute), "statistical", 0.5, 0.6, "value"), // different timestamp
		anomalyAt(ts, "isolation_forest", 0.7, 0.8, "load"),              // different field
	}

	out := Combine(in)
	if len(out) != 3 {
		t.Fatalf("combined = %d, want 3 (no merging)", len(out))
	}
	for _, a := range out {
		if a.Algorithm == AlgorithmName {
			t.Errorf("pass-through anomaly relabeled as ensemble")
		}
	}
}

func TestCombine_FieldOrderInsensitiveGrouping(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []detection.DetectedAnomaly{
		anomalyAt(ts, "statistical", 0.6, 0.7, "cpu", "rps"),
		anomalyAt(ts, "one_class", 0.6, 0.7, "rps", "cpu"),
	}

	out := Combine(in)
	if len(out) != 1 {
		t.Fatalf("combined = %d, want 1 (field order must not matter)", len(out))
	}
}

func TestCombine_DeterministicOrder(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := []detection.DetectedAnomaly{
		anomalyAt(ts.Add(time.Minute), "statistical", 0.5, 0.6, "value"),
		anomalyAt(ts, "statistical", 0.6, 0.7, "value"),
	}

	out := Combine(in)
	if len(out) != 2 {
		t.Fatalf("combined = %d, want 2", len(out))
	}
	if !out[0].Timestamp.Equal(ts) {
		t.Error("output not ordered by timestamp")
	}
}

func TestCombine_EmptyAndSingle(t *testing.T) {
	if got := Combine(nil); len(got) != 0 {
		t.Errorf("Combine(nil) = %d anomalies", len(got))
	}
	one := []detection.DetectedAnomaly{anomalyAt(time.Now(), "statistical", 0.6, 0.7, "value")}
	if got := Combine(one); len(got) != 1 || got[0].ID != one[0].ID {
		t.Error("single anomaly must pass through unchanged")
	}
}
