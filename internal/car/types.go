// Package car defines the canonical listing record and the interfaces shared across subsystems.
package car

// Source identifies a marketplace.
type Source string

// Supported marketplaces.
const (
	SourceBobaedream  Source = "bobaedream"
	SourceKBChaChaCha Source = "kbchachacha"
	SourceEncar       Source = "encar"
)

// Sources lists every supported marketplace in crawl order.
var Sources = []Source{SourceBobaedream, SourceKBChaChaCha, SourceEncar}

// Valid reports whether s is a known marketplace.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Transmission is the drivetrain layout derived from grade or badge text.
type Transmission string

// Transmission values stored in car_transmission.name.
const (
	TransmissionFWD Transmission = "FWD"
	TransmissionRWD Transmission = "RWD"
	Transmission4WD Transmission = "4WD"
	Transmission2WD Transmission = "2WD"
	TransmissionAWD Transmission = "AWD"
)

// Record is the normalized, source-agnostic representation of one listing.
// Empty strings and nil pointers are persisted as NULL.
type Record struct {
	Source       Source       `json:"source"`
	ID           int64        `json:"id"`
	BodyType     string       `json:"body_type,omitempty"`
	Mark         string       `json:"mark"`
	Model        string       `json:"model"`
	Grade        string       `json:"grade,omitempty"`
	Gearbox      string       `json:"gearbox,omitempty"`
	Transmission Transmission `json:"transmission,omitempty"`
	Engine       *int         `json:"engine,omitempty"`
	Year         int          `json:"year"`
	Fuel         string       `json:"fuel,omitempty"`
	Mileage      int          `json:"mileage"`
	Price        *int64       `json:"price,omitempty"`
	Preview      string       `json:"preview,omitempty"`
	// Deleted marks a listing the source reports as no longer listed.
	Deleted bool `json:"deleted_at,omitempty"`
}

// Key returns the natural key of the listing.
func (r Record) Key() NaturalKey {
	return NaturalKey{Source: r.Source, ID: r.ID}
}

// NaturalKey is the durable identity of a listing across crawl runs.
type NaturalKey struct {
	Source Source
	ID     int64
}

// Partition is the (source, body type) unit swept and reconciled together.
type Partition struct {
	Source   Source
	BodyType string
}

// Partition returns the partition the record belongs to.
func (r Record) Partition() Partition {
	return Partition{Source: r.Source, BodyType: r.BodyType}
}
