package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

func singleFieldBaseline(mean, std float64) *detection.HistoricalBaseline {
	return &detection.HistoricalBaseline{
		OrganizationID: "org-1",
		DataSourceID:   "src-1",
		SampleCount:    100,
		Metrics: []detection.BaselineMetric{
			{
				Field: "value", Mean: mean, StdDev: std,
				Min: mean - 3*std, Max: mean + 3*std,
				Percentiles: map[int]float64{
					25: mean - 0.7*std, 50: mean, 75: mean + 0.7*std,
					90: mean + 1.3*std, 95: mean + 1.6*std, 99: mean + 2.3*std,
				},
			},
		},
	}
}

func inputWithRecords(b *detection.HistoricalBaseline, cfg *detection.DetectionConfig, records []detection.Record) *detection.DetectionInput {
	return &detection.DetectionInput{
		BatchID: "batch-1",
		Source: &detection.DataSource{
			ID:             "src-1",
			OrganizationID: "org-1",
			TimestampField: "ts",
			ValueFields:    []string{"value"},
		},
		Batch:    records,
		Baseline: b,
		Config:   cfg,
	}
}

func TestZScore_SpecScenario(t *testing.T) {
	// mean=100, std=10, medium sensitivity (threshold 2.5); value 200 gives
	// z=10: critical severity, confidence capped at 0.95.
	b := singleFieldBaseline(100, 10)
	cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityMedium}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
		{"ts": ts, "value": 200.0},
	}))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}

	a := anomalies[0]
	if a.Severity != detection.SeverityCritical {
		t.Errorf("severity = %s, want critical", a.Severity)
	}
	if a.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", a.Confidence)
	}
	if math.Abs(a.Explanation.ZScore-10) > 1e-9 {
		t.Errorf("z = %v, want 10", a.Explanation.ZScore)
	}
	if !a.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, ts)
	}
}

func TestZScore_NoFlagWithinThreshold(t *testing.T) {
	b := singleFieldBaseline(100, 10)
	cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityLow} // threshold 3.0

	anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
		{"ts": time.Now(), "value": 125.0}, // z = 2.5
	}))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("anomalies = %d, want 0", len(anomalies))
	}
}

func TestZScore_ZeroStdNeverFlags(t *testing.T) {
	b := singleFieldBaseline(100, 0)
	cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityHigh}

	anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
		{"ts": time.Now(), "value": 1e9},
	}))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anomalies) != 0 {
		t.Errorf("zero-variance field flagged: %d anomalies", len(anomalies))
	}
}

func TestZScore_SensitivityThresholds(t *testing.T) {
	tests := []struct {
		name        string
		sensitivity detection.Sensitivity
		custom      float64
		value       float64 // against mean=100, std=10
		wantFlag    bool
	}{
		{"low misses z=2.8", detection.SensitivityLow, 0, 128, false},
		{"low catches z=3.2", detection.SensitivityLow, 0, 132, true},
		{"medium catches z=2.8", detection.SensitivityMedium, 0, 128, true},
		{"high catches z=2.2", detection.SensitivityHigh, 0, 122, true},
		{"custom 1.5 catches z=1.6", detection.SensitivityCustom, 1.5, 116, true},
		{"custom 1.5 misses z=1.4", detection.SensitivityCustom, 1.5, 114, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := singleFieldBaseline(100, 10)
			cfg := &detection.DetectionConfig{Sensitivity: tt.sensitivity, CustomThreshold: tt.custom}
			anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
				{"ts": time.Now(), "value": tt.value},
			}))
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got := len(anomalies) == 1; got != tt.wantFlag {
				t.Errorf("flagged = %v, want %v", got, tt.wantFlag)
			}
		})
	}
}

func TestZScore_SeverityTiers(t *testing.T) {
	// threshold 2.5 (medium): ratio boundaries at 1.2, 1.5, 2.0.
	tests := []struct {
		value float64
		want  detection.Severity
	}{
		{126, detection.SeverityLow},      // z=2.6, ratio 1.04
		{133, detection.SeverityMedium},   // z=3.3, ratio 1.32
		{140, detection.SeverityHigh},     // z=4.0, ratio 1.6
		{160, detection.SeverityCritical}, // z=6.0, ratio 2.4
	}

	for _, tt := range tests {
		b := singleFieldBaseline(100, 10)
		cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityMedium}
		anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
			{"ts": time.Now(), "value": tt.value},
		}))
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(anomalies) != 1 {
			t.Fatalf("value %v: anomalies = %d, want 1", tt.value, len(anomalies))
		}
		if anomalies[0].Severity != tt.want {
			t.Errorf("value %v: severity = %s, want %s", tt.value, anomalies[0].Severity, tt.want)
		}
	}
}

func TestZScore_ContributionsSumToOne(t *testing.T) {
	b := &detection.HistoricalBaseline{
		Metrics: []detection.BaselineMetric{
			{Field: "cpu", Mean: 50, StdDev: 5, Min: 35, Max: 65, Percentiles: map[int]float64{50: 50}},
			{Field: "rps", Mean: 1000, StdDev: 100, Min: 700, Max: 1300, Percentiles: map[int]float64{50: 1000}},
		},
	}
	cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityHigh}
	in := inputWithRecords(b, cfg, []detection.Record{
		{"ts": time.Now(), "cpu": 90.0, "rps": 1500.0}, // z=8 and z=5
	})
	in.Source.ValueFields = []string{"cpu", "rps"}

	anomalies, err := NewZScore().Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1 (both fields grouped)", len(anomalies))
	}

	a := anomalies[0]
	if len(a.AffectedFields) != 2 {
		t.Fatalf("affected fields = %d, want 2", len(a.AffectedFields))
	}
	var sum float64
	for _, f := range a.AffectedFields {
		sum += f.Contribution
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("contributions sum = %v, want 1.0", sum)
	}
	// cpu (z=8) must out-contribute rps (z=5).
	if a.AffectedFields[0].Contribution <= a.AffectedFields[1].Contribution {
		t.Errorf("cpu contribution %v not greater than rps %v",
			a.AffectedFields[0].Contribution, a.AffectedFields[1].Contribution)
	}
}

func TestZScore_ConfidenceCap(t *testing.T) {
	b := singleFieldBaseline(100, 1)
	cfg := &detection.DetectionConfig{Sensitivity: detection.SensitivityHigh}

	anomalies, err := NewZScore().Detect(context.Background(), inputWithRecords(b, cfg, []detection.Record{
		{"ts": time.Now(), "value": 10000.0},
	}))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if anomalies[0].Confidence > detection.MaxConfidence {
		t.Errorf("confidence %v exceeds cap", anomalies[0].Confidence)
	}
}
