package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/pkg/detection"
	"github.com/driftwatch/driftwatch/pkg/textgen"
)

type stubGenerator struct {
	content string
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubGenerator) Generate(ctx context.Context, _ string, _ ...textgen.CallOption) (*textgen.Response, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, textgen.NewProviderError(textgen.ErrCodeTimeout, "generation timed out", ctx.Err())
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &textgen.Response{Content: s.content, Done: true}, nil
}

func anomalyWithFields(severity detection.Severity, score float64, fields ...string) detection.DetectedAnomaly {
	affected := make([]detection.AffectedField, len(fields))
	for i, f := range fields {
		affected[i] = detection.AffectedField{FieldName: f}
	}
	return detection.DetectedAnomaly{
		ID:             "a-1",
		Severity:       severity,
		Score:          score,
		AffectedFields: affected,
		Explanation:    detection.Explanation{Summary: "test evidence"},
	}
}

var testSource = &detection.DataSource{ID: "src-1", Name: "orders"}

func TestClassify_Heuristics(t *testing.T) {
	tests := []struct {
		name         string
		fields       []string
		wantCategory detection.ImpactCategory
		wantUrgency  detection.Urgency
	}{
		{"financial field", []string{"order_amount"}, detection.ImpactFinancial, detection.UrgencyUrgent},
		{"compliance field", []string{"audit_flag"}, detection.ImpactCompliance, detection.UrgencyImmediate},
		{"compliance beats financial", []string{"payment_total", "compliance_state"}, detection.ImpactCompliance, detection.UrgencyImmediate},
		{"operational default", []string{"cpu_load"}, detection.ImpactOperational, detection.UrgencyStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalies := []detection.DetectedAnomaly{
				anomalyWithFields(detection.SeverityHigh, 0.8, tt.fields...),
			}
			New(nil, time.Second, zap.NewNop()).Enrich(context.Background(), anomalies, testSource)

			impact := anomalies[0].Impact
			if impact == nil {
				t.Fatal("no impact assigned")
			}
			if impact.Category != tt.wantCategory {
				t.Errorf("category = %s, want %s", impact.Category, tt.wantCategory)
			}
			if impact.Urgency != tt.wantUrgency {
				t.Errorf("urgency = %s, want %s", impact.Urgency, tt.wantUrgency)
			}
		})
	}
}

func TestEstimatedImpact_ScalesWithSeverity(t *testing.T) {
	critical := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityCritical, 1.0, "x")}
	low := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityLow, 1.0, "x")}

	e := New(nil, time.Second, zap.NewNop())
	e.Enrich(context.Background(), critical, testSource)
	e.Enrich(context.Background(), low, testSource)

	if critical[0].Impact.EstimatedImpact <= low[0].Impact.EstimatedImpact {
		t.Errorf("critical impact %v not above low impact %v",
			critical[0].Impact.EstimatedImpact, low[0].Impact.EstimatedImpact)
	}
}

func TestEnrich_AppendsGeneratedCauses(t *testing.T) {
	gen := &stubGenerator{content: "- upstream schema change\n- late batch arrival\n\n- sensor fault"}
	anomalies := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityHigh, 0.8, "value")}

	New(gen, time.Second, zap.NewNop()).Enrich(context.Background(), anomalies, testSource)

	causes := anomalies[0].Explanation.PossibleCauses
	if len(causes) != 3 {
		t.Fatalf("causes = %d, want 3: %v", len(causes), causes)
	}
	if causes[0] != "upstream schema change" {
		t.Errorf("causes[0] = %q", causes[0])
	}
}

func TestEnrich_GeneratorFailureDegrades(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	anomalies := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityHigh, 0.8, "value")}

	New(gen, time.Second, zap.NewNop()).Enrich(context.Background(), anomalies, testSource)

	if anomalies[0].Impact == nil {
		t.Error("impact must be assigned even when generation fails")
	}
	if len(anomalies[0].Explanation.PossibleCauses) != 0 {
		t.Error("failed generation must not leave causes")
	}
}

func TestEnrich_TimeoutDegrades(t *testing.T) {
	gen := &stubGenerator{content: "- never arrives", delay: 5 * time.Second}
	anomalies := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityHigh, 0.8, "value")}

	start := time.Now()
	New(gen, 50*time.Millisecond, zap.NewNop()).Enrich(context.Background(), anomalies, testSource)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("enrichment did not respect timeout (took %v)", elapsed)
	}
	if len(anomalies[0].Explanation.PossibleCauses) != 0 {
		t.Error("timed-out generation must not leave causes")
	}
}

func TestEnrich_NilGeneratorSkipsCalls(t *testing.T) {
	anomalies := []detection.DetectedAnomaly{anomalyWithFields(detection.SeverityLow, 0.3, "value")}
	New(nil, time.Second, zap.NewNop()).Enrich(context.Background(), anomalies, testSource)

	if anomalies[0].Impact == nil {
		t.Error("impact must still be assigned without a generator")
	}
}
