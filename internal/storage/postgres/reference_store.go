package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

// LoadReferences reads every natural key of a reference table.
func (s *Store) LoadReferences(ctx context.Context, entity store.Entity) (map[string]int64, error) {
	if !entity.Valid() {
		return nil, fmt.Errorf("unknown reference entity %q", entity)
	}
	// Identifiers come from the closed Entity set; only values are parameters.
	query := fmt.Sprintf(`SELECT id, %s FROM %s;`, entity.Column(), entity.Table())
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entity, err)
	}
	defer rows.Close()

	refs := make(map[string]int64)
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", entity, err)
		}
		refs[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", entity, err)
	}
	return refs, nil
}

// EnsureReference inserts key into the entity table; an existing key is not an error.
func (s *Store) EnsureReference(ctx context.Context, entity store.Entity, key string) error {
	if !entity.Valid() {
		return fmt.Errorf("unknown reference entity %q", entity)
	}
	if key == "" {
		return fmt.Errorf("empty natural key for %s", entity)
	}
	query := fmt.Sprintf(
		`INSERT INTO %[1]s (%[2]s) VALUES ($1) ON CONFLICT (%[2]s) DO NOTHING;`,
		entity.Table(),
		entity.Column(),
	)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert %s %q: %w", entity, key, err)
	}
	return nil
}
