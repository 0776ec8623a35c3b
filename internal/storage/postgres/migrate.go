package postgres

import (
	"context"
	_ "embed" // schema.sql
	"fmt"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema and seeds the known source sites.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, src := range car.Sources {
		if err := s.EnsureReference(ctx, store.EntitySourceSite, string(src)); err != nil {
			return fmt.Errorf("seed source site: %w", err)
		}
	}
	return nil
}
