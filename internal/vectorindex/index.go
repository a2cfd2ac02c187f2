// Package vectorindex stores one embedding per listing and answers
// nearest-neighbour queries by cosine distance.
package vectorindex

import (
	"context"
	"errors"
	"time"
)

// Metadata keys written alongside every record.
const (
	MetaListingID  = "listing_id"
	MetaDocument   = "document"
	MetaEmbeddedAt = "embedded_at"
)

// ErrDimension is returned when a vector does not match the index size.
var ErrDimension = errors.New("vector dimension mismatch")

// Record is one embedding keyed by listing id.
type Record struct {
	ID         string
	Vector     []float32
	Document   string
	EmbeddedAt time.Time
	Metadata   map[string]string
}

// Match is a query hit. Distance is cosine distance, 0 for identical
// direction.
type Match struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Distance float64           `json:"distance"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index is the embedding store. Upsert replaces by id; writing the same id
// twice leaves a single record holding the latest vector and document.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}
