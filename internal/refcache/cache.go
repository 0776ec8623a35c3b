// Package refcache keeps the reference tables in memory and lazily creates
// missing natural keys.
package refcache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

// maxPolls bounds how often Resolve re-reads a table waiting for a created key.
const maxPolls = 3

// Cache maps natural keys to surrogate ids for every reference table.
// It is safe for concurrent use.
type Cache struct {
	repo   store.ReferenceRepository
	logger *zap.Logger

	mu    sync.RWMutex
	refs  map[store.Entity]map[string]int64
	group singleflight.Group
}

// New builds an empty cache over repo.
func New(repo store.ReferenceRepository, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		repo:   repo,
		logger: logger,
		refs:   make(map[store.Entity]map[string]int64, len(store.Entities)),
	}
}

// Preload reads every reference table concurrently.
func (c *Cache) Preload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, entity := range store.Entities {
		g.Go(func() error {
			return c.reload(gctx, entity)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("preload references: %w", err)
	}
	return nil
}

// Lookup returns the cached id for key without touching the store.
func (c *Cache) Lookup(entity store.Entity, key string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.refs[entity][key]
	return id, ok
}

// Resolve returns the id for key, creating the reference row when it is missing.
// An empty key resolves to nil without any store access. Concurrent callers
// asking for the same new key share one insert and observe the same id.
func (c *Cache) Resolve(ctx context.Context, entity store.Entity, key string) (*int64, error) {
	if key == "" {
		return nil, nil
	}
	if id, ok := c.Lookup(entity, key); ok {
		return &id, nil
	}
	v, err, _ := c.group.Do(string(entity)+"\x00"+key, func() (any, error) {
		return c.create(ctx, entity, key)
	})
	if err != nil {
		return nil, err
	}
	id := v.(int64)
	return &id, nil
}

func (c *Cache) create(ctx context.Context, entity store.Entity, key string) (int64, error) {
	for poll := 0; poll < maxPolls; poll++ {
		if id, ok := c.Lookup(entity, key); ok {
			return id, nil
		}
		if err := c.repo.EnsureReference(ctx, entity, key); err != nil {
			return 0, fmt.Errorf("create %s %q: %w", entity, key, err)
		}
		if err := c.reload(ctx, entity); err != nil {
			return 0, err
		}
	}
	if id, ok := c.Lookup(entity, key); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%s %q not visible after %d reloads", entity, key, maxPolls)
}

func (c *Cache) reload(ctx context.Context, entity store.Entity) error {
	refs, err := c.repo.LoadReferences(ctx, entity)
	if err != nil {
		return fmt.Errorf("load %s: %w", entity, err)
	}
	c.mu.Lock()
	merged := c.refs[entity]
	if merged == nil {
		merged = make(map[string]int64, len(refs))
		c.refs[entity] = merged
	}
	for key, id := range refs {
		merged[key] = id
	}
	size := len(merged)
	c.mu.Unlock()
	c.logger.Debug("reference table loaded", zap.String("table", entity.Table()), zap.Int("keys", size))
	return nil
}
