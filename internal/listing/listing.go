// Package listing owns the canonical rental listing, its append-only scrape
// history, and the Postgres store that persists both.
package listing

import (
	"context"
	"time"
)

// Canonical field names. They double as column names in the listings table
// and as keys in site field configs.
const (
	FieldID           = "id"
	FieldPrice        = "price"
	FieldDescription  = "description"
	FieldAddress      = "address"
	FieldBedrooms     = "bedrooms"
	FieldBathrooms    = "bathrooms"
	FieldCarspaces    = "carspaces"
	FieldPropertyType = "property_type"
	FieldState        = "state"
	FieldPostcode     = "postcode"
)

// SourceFields are the fields a site config may extract. State and postcode
// are derived from the address and never extracted directly.
var SourceFields = []string{
	FieldID,
	FieldPrice,
	FieldDescription,
	FieldAddress,
	FieldBedrooms,
	FieldBathrooms,
	FieldCarspaces,
	FieldPropertyType,
}

// Listing is the normalized, typed representation of a rental property.
// Zero values are the documented defaults for absent source data.
type Listing struct {
	ID           string    `json:"id"`
	Price        float64   `json:"price"`
	Description  string    `json:"description"`
	Address      string    `json:"address"`
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    int       `json:"bathrooms"`
	Carspaces    int       `json:"carspaces"`
	PropertyType string    `json:"property_type"`
	State        string    `json:"state"`
	Postcode     string    `json:"postcode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ScrapeEvent is one audit row per extraction cycle.
type ScrapeEvent struct {
	ID         int64     `json:"id"`
	ListingID  string    `json:"listing_id"`
	ScrapedAt  time.Time `json:"scraped_at"`
	SourceURL  string    `json:"source_url"`
	Vectorised bool      `json:"vectorised"`
}

// Capture is the scrape metadata recorded alongside an upsert.
type Capture struct {
	ScrapedAt time.Time
	SourceURL string
}

// Action reports which branch an upsert took.
type Action int

const (
	Created Action = iota + 1
	Updated
)

func (a Action) String() string {
	switch a {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// UpsertResult is returned by Store.Upsert. Changed lists the columns that
// differed on the Updated branch; it is empty for a no-op update.
type UpsertResult struct {
	Action  Action
	Changed []string
	EventID int64
}

// NoOp reports an update where no field differed. The event is still logged.
func (r UpsertResult) NoOp() bool {
	return r.Action == Updated && len(r.Changed) == 0
}

// Label is "created", "updated" or "unchanged".
func (r UpsertResult) Label() string {
	if r.NoOp() {
		return "unchanged"
	}
	return r.Action.String()
}

// Stats aggregates the store for admin reporting.
type Stats struct {
	TotalListings int64   `json:"total_listings"`
	TotalEvents   int64   `json:"total_events"`
	AveragePrice  float64 `json:"average_price"`
	Unvectorised  int64   `json:"unvectorised_listings"`
}

// Candidate is a listing awaiting vectorization. UpToEventID is the newest
// event seen when it was claimed; marking covers events up to it.
type Candidate struct {
	ListingID   string
	UpToEventID int64
}

// Store is the persistence contract used by the ingest pipeline, the
// synchronizer and the query service.
type Store interface {
	Upsert(ctx context.Context, l Listing, c Capture) (UpsertResult, error)
	Get(ctx context.Context, id string) (Listing, error)
	GetMany(ctx context.Context, ids []string) (map[string]Listing, error)
	List(ctx context.Context, limit, offset int) ([]Listing, error)
	History(ctx context.Context, id string) ([]ScrapeEvent, error)
	Stats(ctx context.Context) (Stats, error)
	Unvectorised(ctx context.Context, limit int) ([]string, error)
	ClaimUnvectorised(ctx context.Context, limit int, lease time.Duration) ([]Candidate, error)
	MarkVectorised(ctx context.Context, c Candidate) (int64, error)
	ReleaseClaim(ctx context.Context, id string) error
}
