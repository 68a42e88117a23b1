package baseline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Manager owns the baseline cache and builds baselines lazily on first use.
// It is the only component that writes to the cache; the stored value is
// always a complete baseline, swapped in one Put.
type Manager struct {
	cache  Cache
	logger *zap.Logger
}

// NewManager creates a baseline manager over the given cache.
func NewManager(cache Cache, logger *zap.Logger) *Manager {
	return &Manager{cache: cache, logger: logger}
}

// GetOrCreate returns the cached baseline for the data source's
// organization + source key, building and caching a fresh one on miss.
// Returns ErrInsufficientData (wrapped) when the source's window is smaller
// than minSamples.
func (m *Manager) GetOrCreate(ctx context.Context, ds *detection.DataSource, minSamples int) (*detection.HistoricalBaseline, error) {
	key := Key(ds.OrganizationID, ds.ID)

	cached, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to a rebuild, not a failed detection.
		m.logger.Warn("baseline cache read failed, rebuilding",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	if ok {
		return cached, nil
	}

	return m.Refresh(ctx, ds, minSamples)
}

// Refresh builds a fresh baseline from the data source and replaces the
// cached entry.
func (m *Manager) Refresh(ctx context.Context, ds *detection.DataSource, minSamples int) (*detection.HistoricalBaseline, error) {
	b, err := Build(ds, minSamples)
	if err != nil {
		return nil, fmt.Errorf("build baseline for %s: %w", ds.ID, err)
	}

	key := Key(ds.OrganizationID, ds.ID)
	if err := m.cache.Put(ctx, key, b); err != nil {
		m.logger.Warn("baseline cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	m.logger.Debug("baseline built",
		zap.String("organization_id", ds.OrganizationID),
		zap.String("data_source_id", ds.ID),
		zap.Int("samples", b.SampleCount),
		zap.Int("metrics", len(b.Metrics)),
		zap.Int("patterns", len(b.Patterns)),
	)

	return b, nil
}

// Invalidate drops the cached baseline for an organization + source pair.
func (m *Manager) Invalidate(ctx context.Context, orgID, sourceID string) error {
	return m.cache.Invalidate(ctx, Key(orgID, sourceID))
}
