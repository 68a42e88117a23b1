// Package stream runs continuous detection over batches arriving from live
// data sources. A Processor owns one source's loop; the Manager owns the
// set of processors.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

// ErrProcessorStopped is returned when a batch is submitted to a processor
// that is not running.
var ErrProcessorStopped = errors.New("stream processor is stopped")

const (
	defaultQueueCapacity = 64
	// maxWindowRecords bounds the rolling window kept for baseline refresh.
	maxWindowRecords = 5000
)

// Processor drives continuous detection for one data source. Batches can be
// processed synchronously with ProcessBatch or queued with Enqueue; a single
// worker drains the queue so batches from one source never run concurrently.
type Processor struct {
	id       string
	source   detection.DataSource // metadata prototype; Data is set per batch
	cfg      *detection.DetectionConfig
	alertCfg *detection.AlertConfig

	engine    *engine.Engine
	baselines *baseline.Manager
	bus       *event.Bus
	logger    *zap.Logger

	mu     sync.Mutex // serializes detection with baseline refresh
	window []detection.Record

	qmu     sync.RWMutex // guards queue close against concurrent Enqueue
	running atomic.Bool
	status  atomic.Pointer[detection.ProcessorStatus]
	queue   chan []detection.Record
	wg      sync.WaitGroup

	processed  atomic.Int64
	failures   atomic.Int64
	latencyNet atomic.Int64 // cumulative nanoseconds
	lastBatch  atomic.Int64 // unix nanoseconds of the last batch completion
}

// NewProcessor creates a processor for the given source metadata. The
// source's Data field is ignored; each batch supplies its own records.
func NewProcessor(id string, source detection.DataSource, cfg *detection.DetectionConfig,
	alertCfg *detection.AlertConfig, eng *engine.Engine, baselines *baseline.Manager,
	bus *event.Bus, queueCapacity int, logger *zap.Logger) *Processor {

	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	source.Data = nil
	p := &Processor{
		id:        id,
		source:    source,
		cfg:       cfg,
		alertCfg:  alertCfg,
		engine:    eng,
		baselines: baselines,
		bus:       bus,
		logger: logger.With(
			zap.String("processor_id", id),
			zap.String("data_source_id", source.ID),
		),
		queue: make(chan []detection.Record, queueCapacity),
	}
	p.publishStatus()
	return p
}

// ID returns the processor's identifier.
func (p *Processor) ID() string { return p.id }

// Start launches the queue worker. Starting a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) {
	if p.running.Swap(true) {
		return
	}
	p.publishStatus()
	p.wg.Add(1)
	go p.worker(ctx)
	p.logger.Info("stream processor started")
}

// Stop drains in-flight work and marks the processor stopped. Stopping a
// stopped processor is a no-op.
func (p *Processor) Stop() {
	p.qmu.Lock()
	if !p.running.Swap(false) {
		p.qmu.Unlock()
		return
	}
	close(p.queue)
	p.qmu.Unlock()
	p.wg.Wait()
	p.publishStatus()
	p.logger.Info("stream processor stopped")
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for batch := range p.queue {
		if _, err := p.ProcessBatch(ctx, batch); err != nil && !errors.Is(err, ErrProcessorStopped) {
			p.logger.Warn("queued batch failed", zap.Error(err))
		}
	}
}

// Enqueue submits a batch for asynchronous processing. It blocks when the
// queue is full and fails when the processor is stopped.
func (p *Processor) Enqueue(batch []detection.Record) error {
	p.qmu.RLock()
	defer p.qmu.RUnlock()
	if !p.running.Load() {
		return ErrProcessorStopped
	}
	p.queue <- batch
	return nil
}

// ProcessBatch runs one detection pass over the batch. Batches for a single
// processor are serialized; baseline refreshes never interleave with a run.
func (p *Processor) ProcessBatch(ctx context.Context, batch []detection.Record) (*detection.DetectionResult, error) {
	if !p.running.Load() {
		return nil, ErrProcessorStopped
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	source := p.source
	source.Data = batch
	result, err := p.engine.Detect(ctx, &detection.DetectionRequest{
		DataSource:  &source,
		Config:      p.cfg,
		AlertConfig: p.alertCfg,
	})

	p.processed.Add(1)
	p.latencyNet.Add(time.Since(start).Nanoseconds())
	p.lastBatch.Store(time.Now().UnixNano())
	if err != nil {
		p.failures.Add(1)
		p.publishStatus()
		return nil, err
	}

	p.extendWindow(batch)
	p.publishStatus()
	return result, nil
}

// UpdateBaseline rebuilds the source baseline from the rolling window of
// recently processed records. It excludes concurrent batch processing.
func (p *Processor) UpdateBaseline(ctx context.Context) error {
	if !p.running.Load() {
		return ErrProcessorStopped
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.window) == 0 {
		return baseline.ErrInsufficientData
	}
	source := p.source
	source.Data = p.window
	b, err := p.baselines.Refresh(ctx, &source, p.cfg.MinSamples())
	if err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.PublishAsync(ctx, event.Event{
			Topic:     event.TopicBaselineUpdated,
			Source:    "stream",
			Timestamp: time.Now().UTC(),
			Payload:   b,
		})
	}
	return nil
}

// Status returns the most recent liveness snapshot. Snapshots are immutable
// and safe to read without synchronization.
func (p *Processor) Status() *detection.ProcessorStatus {
	return p.status.Load()
}

func (p *Processor) extendWindow(batch []detection.Record) {
	p.window = append(p.window, batch...)
	if excess := len(p.window) - maxWindowRecords; excess > 0 {
		p.window = append(p.window[:0:0], p.window[excess:]...)
	}
}

func (p *Processor) publishStatus() {
	processed := p.processed.Load()
	s := &detection.ProcessorStatus{
		ProcessorID:    p.id,
		OrganizationID: p.source.OrganizationID,
		DataSourceID:   p.source.ID,
		Running:        p.running.Load(),
		TotalProcessed: processed,
		QueueSize:      len(p.queue),
	}
	if ns := p.lastBatch.Load(); ns > 0 {
		s.LastProcessed = time.Unix(0, ns).UTC()
	}
	if processed > 0 {
		s.ErrorRate = float64(p.failures.Load()) / float64(processed)
		s.AvgLatency = time.Duration(p.latencyNet.Load() / processed)
	}
	p.status.Store(s)
}
