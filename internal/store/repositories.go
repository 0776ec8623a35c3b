package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ReferenceRepository reads and extends the reference tables.
type ReferenceRepository interface {
	// LoadReferences returns every natural key of the entity mapped to its id.
	LoadReferences(ctx context.Context, entity Entity) (map[string]int64, error)
	// EnsureReference inserts the key unless it already exists.
	EnsureReference(ctx context.Context, entity Entity, key string) error
}

// Listing is the identity and deletion state of a stored car.
type Listing struct {
	ID      int64
	Deleted bool
}

// ListingRefresh carries the mutable fields rewritten when a listing is seen again.
type ListingRefresh struct {
	Grade   *string
	Year    int
	Price   *int64
	Mileage int
	Engine  *int
	Preview *string
}

// NewListing is a car row resolved to reference ids, ready to insert.
type NewListing struct {
	SourceSiteID   int64
	CarID          int64
	BodyID         *int64
	MarkID         *int64
	ModelID        *int64
	TransmissionID *int64
	GearboxID      *int64
	FuelTypeID     *int64
	Grade          *string
	Year           int
	Price          *int64
	Mileage        int
	Engine         *int
	Preview        *string
}

// ListingTx scopes listing reads and writes to a single transaction.
type ListingTx interface {
	// FindListing looks a car up by natural key or returns ErrNotFound.
	FindListing(ctx context.Context, sourceSiteID, carID int64) (Listing, error)
	// RestoreListing clears deleted_at and refreshes the mutable fields.
	RestoreListing(ctx context.Context, id int64, refresh ListingRefresh) error
	// InsertListing creates a new car row and returns its id.
	InsertListing(ctx context.Context, listing NewListing) (int64, error)
}

// ListingRepository persists car rows.
type ListingRepository interface {
	// MarkPartitionDeleted stamps deleted_at on every live row of the partition.
	// A nil bodyID addresses rows without a body type.
	MarkPartitionDeleted(ctx context.Context, sourceSiteID int64, bodyID *int64, day time.Time) (int64, error)
	// WithinTx runs fn in a transaction, committing when it returns nil.
	WithinTx(ctx context.Context, fn func(tx ListingTx) error) error
}

// RunStatus mirrors the parser_monitoring status column.
type RunStatus string

// Monitoring statuses persisted in parser_monitoring.status.
const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// RunCounts aggregates what one source run did.
type RunCounts struct {
	Listings int64 `json:"listings"`
	Inserted int64 `json:"inserted"`
	Restored int64 `json:"restored"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
	Swept    int64 `json:"swept"`
}

// Add accumulates other into c.
func (c *RunCounts) Add(other RunCounts) {
	c.Listings += other.Listings
	c.Inserted += other.Inserted
	c.Restored += other.Restored
	c.Skipped += other.Skipped
	c.Failed += other.Failed
	c.Swept += other.Swept
}

// Run models one parser_monitoring row.
type Run struct {
	Source       string     `json:"source"`
	Status       RunStatus  `json:"status"`
	RunID        *uuid.UUID `json:"run_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Counts       RunCounts  `json:"counts"`
}

// MonitorRepository persists the latest run state per source.
type MonitorRepository interface {
	// MarkPending records that a run for the source has been scheduled.
	MarkPending(ctx context.Context, source string, at time.Time) error
	// MarkRunning records the start of a run.
	MarkRunning(ctx context.Context, source string, runID uuid.UUID, at time.Time) error
	// CompleteRun records the final status, counters and optional error message.
	CompleteRun(
		ctx context.Context,
		source string,
		status RunStatus,
		at time.Time,
		counts RunCounts,
		errMsg *string,
	) error
	// GetRun loads the row for one source or returns ErrNotFound.
	GetRun(ctx context.Context, source string) (Run, error)
	// ListRuns returns every source's row ordered by source name.
	ListRuns(ctx context.Context) ([]Run, error)
}
