package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

// MarkPartitionDeleted stamps deleted_at on live rows of one (source, body) partition.
func (s *Store) MarkPartitionDeleted(
	ctx context.Context,
	sourceSiteID int64,
	bodyID *int64,
	day time.Time,
) (int64, error) {
	query := `
		UPDATE cars
		SET deleted_at = $3, updated_at = now()
		WHERE source_site_id = $1 AND body_id IS NOT DISTINCT FROM $2 AND deleted_at IS NULL;
	`
	tag, err := s.pool.Exec(ctx, query, sourceSiteID, bodyID, day)
	if err != nil {
		return 0, fmt.Errorf("mark partition deleted: %w", err)
	}
	return tag.RowsAffected(), nil
}

// WithinTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.ListingTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&listingTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type listingTx struct {
	tx pgx.Tx
}

func (t *listingTx) FindListing(ctx context.Context, sourceSiteID, carID int64) (store.Listing, error) {
	query := `
		SELECT id, deleted_at IS NOT NULL
		FROM cars
		WHERE source_site_id = $1 AND car_id = $2
		FOR UPDATE;
	`
	var listing store.Listing
	err := t.tx.QueryRow(ctx, query, sourceSiteID, carID).Scan(&listing.ID, &listing.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Listing{}, store.ErrNotFound
		}
		return store.Listing{}, fmt.Errorf("find listing: %w", err)
	}
	return listing, nil
}

func (t *listingTx) RestoreListing(ctx context.Context, id int64, refresh store.ListingRefresh) error {
	query := `
		UPDATE cars
		SET deleted_at = NULL, grade_name = $2, year = $3, price = $4, mileage = $5, engine_vol = $6,
			preview = COALESCE($7, preview), updated_at = now()
		WHERE id = $1;
	`
	_, err := t.tx.Exec(
		ctx,
		query,
		id,
		refresh.Grade,
		refresh.Year,
		refresh.Price,
		refresh.Mileage,
		refresh.Engine,
		refresh.Preview,
	)
	if err != nil {
		return fmt.Errorf("restore listing %d: %w", id, err)
	}
	return nil
}

func (t *listingTx) InsertListing(ctx context.Context, l store.NewListing) (int64, error) {
	query := `
		INSERT INTO cars (
			source_site_id, car_id, body_id, mark_id, model_id, transmission_id, gearbox_id, fuel_type_id,
			grade_name, year, price, mileage, engine_vol, preview
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id;
	`
	var id int64
	err := t.tx.QueryRow(
		ctx,
		query,
		l.SourceSiteID,
		l.CarID,
		l.BodyID,
		l.MarkID,
		l.ModelID,
		l.TransmissionID,
		l.GearboxID,
		l.FuelTypeID,
		l.Grade,
		l.Year,
		l.Price,
		l.Mileage,
		l.Engine,
		l.Preview,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert listing %d: %w", l.CarID, err)
	}
	return id, nil
}
