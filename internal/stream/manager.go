package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/baseline"
	"github.com/driftwatch/driftwatch/internal/engine"
	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

var activeProcessors = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "driftwatch_stream_processors_active",
		Help: "Stream processors currently running.",
	},
)

func init() {
	prometheus.MustRegister(activeProcessors)
}

// Manager owns the set of running stream processors, at most one per
// organization and data source pair.
type Manager struct {
	engine        *engine.Engine
	baselines     *baseline.Manager
	bus           *event.Bus
	queueCapacity int
	logger        *zap.Logger

	mu         sync.Mutex
	processors map[string]*Processor // by processor ID
	bySource   map[string]string     // org:source -> processor ID
}

// NewManager creates a stream manager.
func NewManager(eng *engine.Engine, baselines *baseline.Manager, bus *event.Bus, queueCapacity int, logger *zap.Logger) *Manager {
	return &Manager{
		engine:        eng,
		baselines:     baselines,
		bus:           bus,
		queueCapacity: queueCapacity,
		logger:        logger,
		processors:    make(map[string]*Processor),
		bySource:      make(map[string]string),
	}
}

// StartRealTime starts continuous detection for a source and returns the
// processor ID. A source can have at most one running processor.
func (m *Manager) StartRealTime(ctx context.Context, source detection.DataSource,
	cfg *detection.DetectionConfig, alertCfg *detection.AlertConfig) (string, error) {

	key := baseline.Key(source.OrganizationID, source.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, exists := m.bySource[key]; exists {
		return "", fmt.Errorf("source %s already has processor %s", source.ID, id)
	}

	id := uuid.NewString()
	p := NewProcessor(id, source, cfg, alertCfg, m.engine, m.baselines, m.bus, m.queueCapacity, m.logger)
	p.Start(ctx)

	m.processors[id] = p
	m.bySource[key] = id
	activeProcessors.Inc()

	m.logger.Info("real-time detection started",
		zap.String("processor_id", id),
		zap.String("data_source_id", source.ID),
	)
	return id, nil
}

// StopRealTime stops and forgets a processor.
func (m *Manager) StopRealTime(id string) error {
	m.mu.Lock()
	p, ok := m.processors[id]
	if ok {
		delete(m.processors, id)
		delete(m.bySource, baseline.Key(p.source.OrganizationID, p.source.ID))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown processor %s", id)
	}
	p.Stop()
	activeProcessors.Dec()
	return nil
}

// Get returns a running processor by ID, or nil.
func (m *Manager) Get(id string) *Processor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processors[id]
}

// Status returns a processor's liveness snapshot, or nil when unknown.
func (m *Manager) Status(id string) *detection.ProcessorStatus {
	if p := m.Get(id); p != nil {
		return p.Status()
	}
	return nil
}

// StopAll stops every running processor. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.processors))
	for _, p := range m.processors {
		procs = append(procs, p)
	}
	m.processors = make(map[string]*Processor)
	m.bySource = make(map[string]string)
	m.mu.Unlock()

	for _, p := range procs {
		p.Stop()
		activeProcessors.Dec()
	}
}
