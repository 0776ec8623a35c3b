// Package upsert reconciles a freshly crawled batch against the stored listings.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/car"
	"github.com/JakeFAU/kr-car-crawler/internal/metrics"
	"github.com/JakeFAU/kr-car-crawler/internal/store"
)

// Upsert outcomes recorded per record.
const (
	ActionInserted = "inserted"
	ActionRestored = "restored"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
)

// References resolves natural keys to reference ids.
type References interface {
	Preload(ctx context.Context) error
	Resolve(ctx context.Context, entity store.Entity, key string) (*int64, error)
}

// Engine sweeps each partition of a batch and then reconciles the records one
// transaction at a time.
type Engine struct {
	refs     References
	listings store.ListingRepository
	clock    car.Clock
	logger   *zap.Logger
}

// New wires an Engine.
func New(refs References, listings store.ListingRepository, clock car.Clock, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		refs:     refs,
		listings: listings,
		clock:    clock,
		logger:   logger,
	}
}

// Process persists a batch. Errors on individual records are logged and
// counted; only failures that prevent the sweep abort the batch.
func (e *Engine) Process(ctx context.Context, records []car.Record) (store.RunCounts, error) {
	var counts store.RunCounts
	if len(records) == 0 {
		return counts, nil
	}
	counts.Listings = int64(len(records))

	if err := e.refs.Preload(ctx); err != nil {
		return counts, err
	}

	sourceIDs := make(map[car.Source]int64)
	for _, partition := range partitionsOf(records) {
		swept, err := e.sweep(ctx, partition, sourceIDs)
		if err != nil {
			return counts, err
		}
		counts.Swept += swept
	}

	for _, rec := range records {
		logger := e.logger.With(zap.String("source", string(rec.Source)), zap.Int64("car_id", rec.ID))
		action, err := e.processRecord(ctx, sourceIDs[rec.Source], rec)
		if err != nil {
			if ctx.Err() != nil {
				return counts, fmt.Errorf("upsert canceled: %w", ctx.Err())
			}
			logger.Error("listing write failed", zap.Error(err))
			action = ActionFailed
		} else {
			logger.Debug("listing reconciled", zap.String("action", action))
		}
		counts.Add(countFor(action))
		metrics.ObserveUpsert(string(rec.Source), action, 1)
	}
	return counts, nil
}

func (e *Engine) sweep(ctx context.Context, partition car.Partition, sourceIDs map[car.Source]int64) (int64, error) {
	sourceID, err := e.refs.Resolve(ctx, store.EntitySourceSite, string(partition.Source))
	if err != nil {
		return 0, fmt.Errorf("resolve source %s: %w", partition.Source, err)
	}
	if sourceID == nil {
		return 0, fmt.Errorf("source %q has no id", partition.Source)
	}
	sourceIDs[partition.Source] = *sourceID

	bodyID, err := e.refs.Resolve(ctx, store.EntityBody, partition.BodyType)
	if err != nil {
		return 0, fmt.Errorf("resolve body %q: %w", partition.BodyType, err)
	}
	swept, err := e.listings.MarkPartitionDeleted(ctx, *sourceID, bodyID, e.clock.Today())
	if err != nil {
		return 0, fmt.Errorf("sweep %s/%s: %w", partition.Source, partition.BodyType, err)
	}
	e.logger.Info("partition swept",
		zap.String("source", string(partition.Source)),
		zap.String("body_type", partition.BodyType),
		zap.Int64("rows", swept),
	)
	metrics.ObserveSwept(string(partition.Source), swept)
	return swept, nil
}

func (e *Engine) processRecord(ctx context.Context, sourceID int64, rec car.Record) (string, error) {
	var action string
	err := e.listings.WithinTx(ctx, func(tx store.ListingTx) error {
		existing, err := tx.FindListing(ctx, sourceID, rec.ID)
		switch {
		case err == nil:
			if rec.Deleted {
				action = ActionSkipped
				return nil
			}
			action = ActionRestored
			return tx.RestoreListing(ctx, existing.ID, refreshOf(rec))
		case errors.Is(err, store.ErrNotFound):
			if rec.Deleted {
				action = ActionSkipped
				return nil
			}
			listing, err := e.resolve(ctx, sourceID, rec)
			if err != nil {
				return err
			}
			if _, err := tx.InsertListing(ctx, listing); err != nil {
				return err
			}
			action = ActionInserted
			return nil
		default:
			return err
		}
	})
	return action, err
}

func (e *Engine) resolve(ctx context.Context, sourceID int64, rec car.Record) (store.NewListing, error) {
	listing := store.NewListing{
		SourceSiteID: sourceID,
		CarID:        rec.ID,
		Grade:        optional(rec.Grade),
		Year:         rec.Year,
		Price:        rec.Price,
		Mileage:      rec.Mileage,
		Engine:       rec.Engine,
		Preview:      optional(rec.Preview),
	}
	targets := []struct {
		entity store.Entity
		key    string
		dst    **int64
	}{
		{store.EntityBody, rec.BodyType, &listing.BodyID},
		{store.EntityMark, rec.Mark, &listing.MarkID},
		{store.EntityModel, rec.Model, &listing.ModelID},
		{store.EntityTransmission, string(rec.Transmission), &listing.TransmissionID},
		{store.EntityGearbox, rec.Gearbox, &listing.GearboxID},
		{store.EntityFuelType, rec.Fuel, &listing.FuelTypeID},
	}
	for _, target := range targets {
		id, err := e.refs.Resolve(ctx, target.entity, target.key)
		if err != nil {
			return store.NewListing{}, fmt.Errorf("resolve %s: %w", target.entity, err)
		}
		*target.dst = id
	}
	return listing, nil
}

func refreshOf(rec car.Record) store.ListingRefresh {
	return store.ListingRefresh{
		Grade:   optional(rec.Grade),
		Year:    rec.Year,
		Price:   rec.Price,
		Mileage: rec.Mileage,
		Engine:  rec.Engine,
		Preview: optional(rec.Preview),
	}
}

// partitionsOf returns the distinct partitions of records in order of first appearance.
func partitionsOf(records []car.Record) []car.Partition {
	seen := make(map[car.Partition]struct{})
	var out []car.Partition
	for _, rec := range records {
		p := rec.Partition()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func countFor(action string) store.RunCounts {
	switch action {
	case ActionInserted:
		return store.RunCounts{Inserted: 1}
	case ActionRestored:
		return store.RunCounts{Restored: 1}
	case ActionSkipped:
		return store.RunCounts{Skipped: 1}
	default:
		return store.RunCounts{Failed: 1}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
