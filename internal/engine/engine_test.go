package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/alerting"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/detector"
	"github.com/driftwatch/driftwatch/internal/enrich"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

// failingDetector always errors. panickyDetector always panics. Both are
// registered under fake kinds to exercise failure isolation.
type failingDetector struct{}

func (failingDetector) Kind() detection.AlgorithmKind { return "failing" }
func (failingDetector) Detect(context.Context, *detection.DetectionInput) ([]detection.DetectedAnomaly, error) {
	return nil, errors.New("model not converged")
}

type panickyDetector struct{}

func (panickyDetector) Kind() detection.AlgorithmKind { return "panicky" }
func (panickyDetector) Detect(context.Context, *detection.DetectionInput) ([]detection.DetectedAnomaly, error) {
	panic("index out of range")
}

func newTestEngine(t *testing.T, reg *detector.Registry) *Engine {
	t.Helper()
	logger := zap.NewNop()
	bus := event.NewBus(logger)
	return New(
		reg,
		baseline.NewManager(baseline.NewMemoryCache(time.Minute), logger),
		enrich.New(nil, 0, logger),
		alerting.NewGenerator(bus, 0, logger),
		nil,
		bus,
		logger,
		Options{},
	)
}

// steadySource returns a batch with a stable cpu series and one extreme
// spike in the final record.
func steadySource(n int) *detection.DataSource {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	data := make([]detection.Record, 0, n)
	for i := 0; i < n; i++ {
		v := 50.0
		if i%2 == 1 {
			v = 54.0
		}
		if i == n-1 {
			v = 500.0
		}
		data = append(data, detection.Record{
			"ts":  base.Add(time.Duration(i) * time.Minute),
			"cpu": v,
		})
	}
	return &detection.DataSource{
		ID:             "src-1",
		OrganizationID: "org-1",
		Name:           "host metrics",
		Data:           data,
		TimestampField: "ts",
		ValueFields:    []string{"cpu"},
	}
}

func validRequest(n int) *detection.DetectionRequest {
	return &detection.DetectionRequest{
		DataSource: steadySource(n),
		Config: &detection.DetectionConfig{
			Algorithms:  []detection.Algorithm{{Kind: detection.AlgorithmStatistical}},
			Sensitivity: detection.SensitivityMedium,
		},
		AlertConfig: &detection.AlertConfig{
			Enabled:  true,
			Channels: []detection.AlertChannel{detection.ChannelEmail},
		},
	}
}

func TestDetect_Validation(t *testing.T) {
	e := newTestEngine(t, detector.DefaultRegistry())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*detection.DetectionRequest)
		field  string
	}{
		{"nil data source", func(r *detection.DetectionRequest) { r.DataSource = nil }, "data_source"},
		{"empty data", func(r *detection.DetectionRequest) { r.DataSource.Data = nil }, "data_source.data"},
		{"nil config", func(r *detection.DetectionRequest) { r.Config = nil }, "detection_config"},
		{"no algorithms", func(r *detection.DetectionRequest) { r.Config.Algorithms = nil }, "detection_config.algorithms"},
		{"nil alert config", func(r *detection.DetectionRequest) { r.AlertConfig = nil }, "alert_config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(30)
			tt.mutate(req)

			_, err := e.Detect(ctx, req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestDetect_FlagsSpike(t *testing.T) {
	e := newTestEngine(t, detector.DefaultRegistry())

	res, err := e.Detect(context.Background(), validRequest(40))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Status != detection.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Summary.TotalRecords != 40 {
		t.Errorf("total records = %d", res.Summary.TotalRecords)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("spike not detected")
	}
	if res.Summary.TotalAnomalies != len(res.Anomalies) {
		t.Errorf("summary count %d != %d anomalies", res.Summary.TotalAnomalies, len(res.Anomalies))
	}
	if res.Summary.HighestSeverity != detection.SeverityCritical {
		t.Errorf("highest severity = %s, want critical", res.Summary.HighestSeverity)
	}
	if len(res.Recommendations) == 0 {
		t.Error("no recommendations on a critical result")
	}
	if res.ModelPerformance.AlgorithmsRun != 1 || res.ModelPerformance.AlgorithmsFailed != 0 {
		t.Errorf("performance = %+v", res.ModelPerformance)
	}

	// The spike is extreme and critical, so it clears the alert score gate.
	if len(res.Alerts) == 0 {
		t.Error("no alert for critical anomaly")
	}

	// Anomaly context holds surrounding records.
	a := res.Anomalies[0]
	if len(a.Context.Surrounding) == 0 {
		t.Error("anomaly context missing surrounding records")
	}
	if a.Impact == nil {
		t.Error("anomaly not enriched with business impact")
	}
}

func TestDetect_InsufficientData(t *testing.T) {
	e := newTestEngine(t, detector.DefaultRegistry())
	req := validRequest(5) // below the default 10-sample minimum

	res, err := e.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Status != detection.StatusInsufficientData {
		t.Fatalf("status = %s, want insufficient_data", res.Status)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("anomalies on insufficient data: %d", len(res.Anomalies))
	}
	if len(res.Recommendations) == 0 {
		t.Error("expected a collect-more-data recommendation")
	}
}

func TestDetect_FailureIsolation(t *testing.T) {
	reg := detector.NewRegistry()
	if err := reg.Register(detector.NewZScore()); err != nil {
		t.Fatalf("register zscore: %v", err)
	}
	if err := reg.Register(failingDetector{}); err != nil {
		t.Fatalf("register failing: %v", err)
	}
	if err := reg.Register(panickyDetector{}); err != nil {
		t.Fatalf("register panicky: %v", err)
	}

	e := newTestEngine(t, reg)
	req := validRequest(40)
	req.Config.Algorithms = []detection.Algorithm{
		{Kind: detection.AlgorithmStatistical},
		{Kind: "failing"},
		{Kind: "panicky"},
		{Kind: "unregistered"},
	}

	res, err := e.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Status != detection.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.ModelPerformance.AlgorithmsFailed != 3 {
		t.Errorf("failed = %d, want 3", res.ModelPerformance.AlgorithmsFailed)
	}
	if len(res.Anomalies) == 0 {
		t.Error("healthy detector's findings were lost")
	}
}

func TestDetect_Idempotent(t *testing.T) {
	e := newTestEngine(t, detector.DefaultRegistry())
	ctx := context.Background()

	first, err := e.Detect(ctx, validRequest(40))
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	second, err := e.Detect(ctx, validRequest(40))
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}

	if len(first.Anomalies) != len(second.Anomalies) {
		t.Fatalf("anomaly count differs: %d vs %d", len(first.Anomalies), len(second.Anomalies))
	}
	for i := range first.Anomalies {
		a, b := first.Anomalies[i], second.Anomalies[i]
		if a.Severity != b.Severity || a.Score != b.Score || a.Confidence != b.Confidence {
			t.Errorf("anomaly %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestDetect_EnsembleMergesAgreement(t *testing.T) {
	e := newTestEngine(t, detector.DefaultRegistry())
	req := validRequest(40)
	req.Config.Algorithms = []detection.Algorithm{
		{Kind: detection.AlgorithmStatistical},
		{Kind: detection.AlgorithmOneClass},
	}

	res, err := e.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// When two algorithms flag the same record and fields, the ensemble
	// merges them into a single anomaly.
	seen := make(map[string]int)
	for i := range res.Anomalies {
		a := &res.Anomalies[i]
		key := a.Timestamp.String() + "|" + a.AffectedFields[0].FieldName
		seen[key]++
		if seen[key] > 1 {
			t.Errorf("duplicate anomaly for %s", key)
		}
	}
}
