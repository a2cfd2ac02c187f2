// Package ingest turns raw extractions into stored listings. It normalizes
// each record with its site config, validates the result, upserts it and
// announces the upsert on Kafka.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/normalize"
)

const (
	maxIDLength          = 255
	maxDescriptionLength = 1 << 20
)

// RawRecord is one extraction handed over by a collaborator: the decoded
// data block of a listing page plus where and when it was captured.
type RawRecord struct {
	Site      string          `json:"site,omitempty"`
	URL       string          `json:"url"`
	ScrapedAt time.Time       `json:"scraped_at,omitzero"`
	Payload   normalize.Value `json:"payload"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// Validate checks a normalized listing before it is stored. Only the id is
// mandatory; every other field has a usable default.
func Validate(l listing.Listing) error {
	errs := make(map[string]string)
	id := strings.TrimSpace(l.ID)
	if id == "" {
		errs[listing.FieldID] = "id is required"
	} else if len(id) > maxIDLength {
		errs[listing.FieldID] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	if len(l.Description) > maxDescriptionLength {
		errs[listing.FieldDescription] = fmt.Sprintf("description must be at most %d bytes", maxDescriptionLength)
	}
	if l.Price < 0 {
		errs[listing.FieldPrice] = "price must not be negative"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
