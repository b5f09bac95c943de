package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kyte-estimates/internal/models"
	"kyte-estimates/internal/util"

	"go.uber.org/zap"
)

// ProductSource loads a tenant's catalog from the system of record
type ProductSource interface {
	ListProducts(ctx context.Context, companyID string) ([]models.Product, error)
}

type snapshot struct {
	index    *Index
	loadedAt time.Time
}

// Catalog keeps one immutable Index per tenant and reloads it after ttl.
// Readers share snapshots; a reload swaps the pointer.
type Catalog struct {
	source ProductSource
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu        sync.RWMutex
	snapshots map[string]snapshot
	// generations counts invalidations per tenant; a load that started in an
	// older generation is returned to its caller but never cached.
	generations map[string]uint64
}

// NewCatalog creates a catalog cache; a zero ttl reloads on every call
func NewCatalog(source ProductSource, ttl time.Duration) *Catalog {
	return &Catalog{
		source:    source,
		ttl:       ttl,
		now:       time.Now,
		logger:    util.GetLogger().Named("catalog"),
		snapshots: map[string]snapshot{},

		generations: map[string]uint64{},
	}
}

// Snapshot returns the current index for a tenant, loading it when stale
func (c *Catalog) Snapshot(ctx context.Context, companyID string) (*Index, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[companyID]
	gen := c.generations[companyID]
	c.mu.RUnlock()
	if ok && c.ttl > 0 && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap.index, nil
	}

	ctx, span := util.StartSpan(ctx, "Catalog.Snapshot")
	defer span.End()

	start := time.Now()
	products, err := c.source.ListProducts(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog for company %s: %w", companyID, err)
	}
	idx := BuildIndex(companyID, products)
	util.CatalogLoadLatency.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	current := c.generations[companyID] == gen
	if current {
		c.snapshots[companyID] = snapshot{index: idx, loadedAt: c.now()}
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("Catalog load superseded by invalidation, not cached",
			zap.String("company_id", companyID))
		return idx, nil
	}

	c.logger.Debug("Catalog snapshot loaded",
		zap.String("company_id", companyID),
		zap.Int("products", idx.Len()))
	return idx, nil
}

// Lookup resolves a query against the tenant's current snapshot
func (c *Catalog) Lookup(ctx context.Context, companyID string, q Query) (models.Product, models.MatchReason, bool, error) {
	idx, err := c.Snapshot(ctx, companyID)
	if err != nil {
		return models.Product{}, "", false, err
	}
	p, reason, ok := idx.Lookup(q)
	return p, reason, ok, nil
}

// Invalidate drops a tenant's snapshot so the next lookup reloads it
func (c *Catalog) Invalidate(companyID string) {
	c.mu.Lock()
	delete(c.snapshots, companyID)
	c.generations[companyID]++
	c.mu.Unlock()
	c.logger.Info("Catalog snapshot invalidated", zap.String("company_id", companyID))
}
