// Package engine orchestrates one detection run end to end: preparation,
// baseline resolution, parallel detector execution, ensemble combination,
// enrichment, alerting, and persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/alerting"
	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/detector"
	"github.com/driftwatch/driftwatch/internal/enrich"
	"github.com/driftwatch/driftwatch/internal/ensemble"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/internal/prep"
	"github.com/driftwatch/driftwatch/internal/store"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

var (
	detectionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_detection_runs_total",
			Help: "Detection runs, by outcome status.",
		},
		[]string{"status"},
	)
	detectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftwatch_detection_duration_seconds",
			Help:    "Wall-clock duration of detection runs.",
			Buckets: prometheus.DefBuckets,
		},
	)
	anomaliesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_anomalies_detected_total",
			Help: "Anomalies detected, by severity.",
		},
		[]string{"severity"},
	)
	algorithmFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_algorithm_failures_total",
			Help: "Detector executions that failed or panicked.",
		},
		[]string{"algorithm"},
	)
)

func init() {
	prometheus.MustRegister(detectionRuns)
	prometheus.MustRegister(detectionDuration)
	prometheus.MustRegister(anomaliesDetected)
	prometheus.MustRegister(algorithmFailures)
}

// ValidationError reports a malformed detection request. It is the caller's
// fault and carries the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid detection request: %s: %s", e.Field, e.Reason)
}

// Options tunes engine behavior outside the per-request configuration.
type Options struct {
	// PersistTimeout bounds the background write of a finished result.
	PersistTimeout time.Duration
	// ContextWindow is how many neighboring records to snapshot on each
	// side of an anomaly.
	ContextWindow int
}

const (
	defaultPersistTimeout = 5 * time.Second
	defaultContextWindow  = 5
)

// Engine runs detection requests. All dependencies are fixed at construction;
// a single Engine serves concurrent callers.
type Engine struct {
	registry  *detector.Registry
	baselines *baseline.Manager
	enricher  *enrich.Enricher
	alerts    *alerting.Generator
	results   *store.ResultStore // nil disables persistence
	bus       *event.Bus
	logger    *zap.Logger
	opts      Options
}

// New creates an engine. results may be nil to run without persistence.
func New(registry *detector.Registry, baselines *baseline.Manager, enricher *enrich.Enricher,
	alerts *alerting.Generator, results *store.ResultStore, bus *event.Bus,
	logger *zap.Logger, opts Options) *Engine {

	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = defaultContextWindow
	}
	return &Engine{
		registry:  registry,
		baselines: baselines,
		enricher:  enricher,
		alerts:    alerts,
		results:   results,
		bus:       bus,
		logger:    logger,
		opts:      opts,
	}
}

// Detect runs one synchronous detection pass over the request's batch.
// Insufficient baseline data is not an error: it yields a result with
// status insufficient_data. A failing detector loses only its own
// contribution.
func (e *Engine) Detect(ctx context.Context, req *detection.DetectionRequest) (*detection.DetectionResult, error) {
	if err := validate(req); err != nil {
		detectionRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}

	start := time.Now()
	batchID := uuid.NewString()
	log := e.logger.With(
		zap.String("batch_id", batchID),
		zap.String("data_source_id", req.DataSource.ID),
	)

	prepared, err := prep.Prepare(req.DataSource)
	if err != nil {
		detectionRuns.WithLabelValues("invalid").Inc()
		return nil, &ValidationError{Field: "data_source.data", Reason: err.Error()}
	}

	bl, err := e.baselines.GetOrCreate(ctx, req.DataSource, req.Config.MinSamples())
	if errors.Is(err, baseline.ErrInsufficientData) {
		log.Info("insufficient data for baseline",
			zap.Int("records", len(prepared)),
			zap.Int("minimum_samples", req.Config.MinSamples()),
		)
		result := e.insufficientResult(req, batchID, len(prepared), start)
		detectionRuns.WithLabelValues(string(detection.StatusInsufficientData)).Inc()
		e.persist(result, log)
		return result, nil
	}
	if err != nil {
		detectionRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve baseline: %w", err)
	}

	anomalies, perf := e.runDetectors(ctx, req, batchID, prepared, bl, log)
	if len(req.Config.Algorithms) > 1 {
		anomalies = ensemble.Combine(anomalies)
	}
	e.attachContext(anomalies, prepared, req.DataSource.TimestampField)
	e.enricher.Enrich(ctx, anomalies, req.DataSource)

	now := time.Now().UTC()
	for i := range anomalies {
		anomaliesDetected.WithLabelValues(string(anomalies[i].Severity)).Inc()
		e.bus.PublishAsync(ctx, event.Event{
			Topic:     event.TopicAnomalyDetected,
			Source:    "engine",
			Timestamp: now,
			Payload:   anomalies[i],
		})
	}

	alerts := e.alerts.Generate(ctx, anomalies, req.AlertConfig, req.DataSource)

	result := &detection.DetectionResult{
		ID:               batchID,
		OrganizationID:   req.DataSource.OrganizationID,
		DataSourceID:     req.DataSource.ID,
		Status:           detection.StatusCompleted,
		Anomalies:        anomalies,
		Summary:          summarize(len(prepared), anomalies),
		ModelPerformance: perf,
		Alerts:           alerts,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CreatedAt:        now,
	}
	result.Recommendations = recommend(result)

	detectionRuns.WithLabelValues(string(detection.StatusCompleted)).Inc()
	detectionDuration.Observe(time.Since(start).Seconds())
	log.Info("detection run completed",
		zap.Int("records", len(prepared)),
		zap.Int("anomalies", len(anomalies)),
		zap.Int("alerts", len(alerts)),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)

	e.persist(result, log)
	return result, nil
}

func validate(req *detection.DetectionRequest) error {
	switch {
	case req == nil:
		return &ValidationError{Field: "request", Reason: "missing"}
	case req.DataSource == nil:
		return &ValidationError{Field: "data_source", Reason: "missing"}
	case len(req.DataSource.Data) == 0:
		return &ValidationError{Field: "data_source.data", Reason: "empty"}
	case req.Config == nil:
		return &ValidationError{Field: "detection_config", Reason: "missing"}
	case len(req.Config.Algorithms) == 0:
		return &ValidationError{Field: "detection_config.algorithms", Reason: "at least one algorithm required"}
	case req.AlertConfig == nil:
		return &ValidationError{Field: "alert_config", Reason: "missing"}
	}
	return nil
}

// runDetectors executes every configured algorithm concurrently. A detector
// error or panic is recorded and logged but never aborts the run.
func (e *Engine) runDetectors(ctx context.Context, req *detection.DetectionRequest, batchID string,
	prepared []detection.Record, bl *detection.HistoricalBaseline, log *zap.Logger,
) ([]detection.DetectedAnomaly, detection.ModelPerformance) {

	input := &detection.DetectionInput{
		BatchID:  batchID,
		Source:   req.DataSource,
		Batch:    prepared,
		Baseline: bl,
		Config:   req.Config,
	}

	perf := detection.ModelPerformance{
		AlgorithmsRun: len(req.Config.Algorithms),
		RecordsScored: len(prepared),
		Durations:     make(map[string]time.Duration, len(req.Config.Algorithms)),
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		anomalies []detection.DetectedAnomaly
		failed    int
	)

	for _, alg := range req.Config.Algorithms {
		d, ok := e.registry.Lookup(alg.Kind)
		if !ok {
			log.Warn("unknown algorithm", zap.String("algorithm", string(alg.Kind)))
			algorithmFailures.WithLabelValues(string(alg.Kind)).Inc()
			failed++
			continue
		}

		wg.Add(1)
		go func(kind detection.AlgorithmKind, d detection.Detector) {
			defer wg.Done()
			started := time.Now()

			defer func() {
				if r := recover(); r != nil {
					log.Error("detector panicked",
						zap.String("algorithm", string(kind)),
						zap.Any("panic", r),
					)
					algorithmFailures.WithLabelValues(string(kind)).Inc()
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}()

			found, err := d.Detect(ctx, input)
			elapsed := time.Since(started)

			mu.Lock()
			defer mu.Unlock()
			perf.Durations[string(kind)] = elapsed
			if err != nil {
				log.Warn("detector failed",
					zap.String("algorithm", string(kind)),
					zap.Error(err),
				)
				algorithmFailures.WithLabelValues(string(kind)).Inc()
				failed++
				return
			}
			anomalies = append(anomalies, found...)
		}(alg.Kind, d)
	}

	wg.Wait()
	perf.AlgorithmsFailed = failed
	return anomalies, perf
}

// attachContext snapshots the records surrounding each anomaly's timestamp.
func (e *Engine) attachContext(anomalies []detection.DetectedAnomaly, prepared []detection.Record, tsField string) {
	if len(prepared) == 0 {
		return
	}
	for i := range anomalies {
		a := &anomalies[i]

		// Locate the first record at or after the anomaly.
		at := len(prepared)
		for j := range prepared {
			if ts, ok := prepared[j].Time(tsField); ok && !ts.Before(a.Timestamp) {
				at = j
				break
			}
		}

		lo := at - e.opts.ContextWindow
		if lo < 0 {
			lo = 0
		}
		hi := at + e.opts.ContextWindow + 1
		if hi > len(prepared) {
			hi = len(prepared)
		}

		surrounding := make([]detection.Record, 0, hi-lo)
		for _, rec := range prepared[lo:hi] {
			surrounding = append(surrounding, rec.Clone())
		}
		a.Context.Surrounding = surrounding
		if start, ok := prepared[lo].Time(tsField); ok {
			a.Context.WindowStart = start
		}
		if end, ok := prepared[hi-1].Time(tsField); ok {
			a.Context.WindowEnd = end
		}
	}
}

func (e *Engine) insufficientResult(req *detection.DetectionRequest, batchID string, records int, start time.Time) *detection.DetectionResult {
	return &detection.DetectionResult{
		ID:             batchID,
		OrganizationID: req.DataSource.OrganizationID,
		DataSourceID:   req.DataSource.ID,
		Status:         detection.StatusInsufficientData,
		Summary: detection.Summary{
			TotalRecords: records,
		},
		Recommendations: []string{
			fmt.Sprintf("Collect at least %d samples before running detection on this source.",
				req.Config.MinSamples()),
		},
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
}

func summarize(total int, anomalies []detection.DetectedAnomaly) detection.Summary {
	s := detection.Summary{
		TotalRecords:   total,
		TotalAnomalies: len(anomalies),
	}
	if total > 0 {
		s.AnomalyRate = float64(len(anomalies)) / float64(total)
	}
	if len(anomalies) == 0 {
		return s
	}
	s.BySeverity = make(map[detection.Severity]int)
	for i := range anomalies {
		s.BySeverity[anomalies[i].Severity]++
		s.HighestSeverity = detection.MaxSeverity(s.HighestSeverity, anomalies[i].Severity)
	}
	return s
}

func recommend(r *detection.DetectionResult) []string {
	if r.Summary.TotalAnomalies == 0 {
		return []string{"No anomalies detected. No action required."}
	}

	var recs []string
	if n := r.Summary.BySeverity[detection.SeverityCritical]; n > 0 {
		recs = append(recs, fmt.Sprintf("Investigate %d critical anomaly(ies) immediately.", n))
	}
	if r.Summary.AnomalyRate > 0.1 {
		recs = append(recs,
			"More than 10% of records are anomalous. The baseline may be stale; consider refreshing it.")
	}
	if r.ModelPerformance.AlgorithmsFailed > 0 {
		recs = append(recs, fmt.Sprintf("%d algorithm(s) failed during this run. Check engine logs.",
			r.ModelPerformance.AlgorithmsFailed))
	}
	if len(recs) == 0 {
		recs = append(recs, "Review detected anomalies and acknowledge the generated alerts.")
	}
	return recs
}

// persist writes the result in the background so detection latency never
// depends on the database.
func (e *Engine) persist(result *detection.DetectionResult, log *zap.Logger) {
	if e.results == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
		defer cancel()
		if err := e.results.SaveResult(ctx, result); err != nil {
			log.Error("persist detection result", zap.Error(err))
		}
	}()
}
