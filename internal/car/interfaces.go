package car

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore persists preview images and returns the location to record on the listing.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any, attributes map[string]string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
	Today() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
