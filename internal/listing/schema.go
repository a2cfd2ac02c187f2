package listing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS listings (
    listing_id    TEXT PRIMARY KEY,
    price         DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (price >= 0),
    description   TEXT NOT NULL DEFAULT '',
    address       TEXT NOT NULL DEFAULT '',
    bedrooms      INTEGER NOT NULL DEFAULT 0 CHECK (bedrooms >= 0),
    bathrooms     INTEGER NOT NULL DEFAULT 0 CHECK (bathrooms >= 0),
    carspaces     INTEGER NOT NULL DEFAULT 0 CHECK (carspaces >= 0),
    property_type TEXT NOT NULL DEFAULT '',
    state         TEXT NOT NULL DEFAULT '',
    postcode      TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scrape_events (
    id            BIGSERIAL PRIMARY KEY,
    listing_id    TEXT NOT NULL REFERENCES listings (listing_id) ON DELETE CASCADE,
    scraped_at    TIMESTAMPTZ NOT NULL,
    source_url    TEXT NOT NULL DEFAULT '',
    vectorised    BOOLEAN NOT NULL DEFAULT FALSE,
    claimed_until TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scrape_events_listing_id ON scrape_events (listing_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_scrape_events_pending ON scrape_events (listing_id) WHERE NOT vectorised;
CREATE INDEX IF NOT EXISTS idx_listings_updated_at ON listings (updated_at DESC);

CREATE OR REPLACE FUNCTION scrape_events_vectorised_monotonic() RETURNS trigger AS $$
BEGIN
    IF OLD.vectorised AND NOT NEW.vectorised THEN
        RAISE EXCEPTION 'scrape_events.vectorised cannot go from true to false (event %)', OLD.id;
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_scrape_events_vectorised_monotonic ON scrape_events;
CREATE TRIGGER trg_scrape_events_vectorised_monotonic
    BEFORE UPDATE OF vectorised ON scrape_events
    FOR EACH ROW EXECUTE FUNCTION scrape_events_vectorised_monotonic();
`

// EnsureSchema creates both tables, their indexes and the monotonic
// vectorised trigger. It is safe to run repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensuring listing schema: %w", err)
	}
	return nil
}

var (
	identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

	evolvableTables = map[string]bool{
		"listings":      true,
		"scrape_events": true,
	}

	columnTypes = map[string]string{
		"TEXT":             "TEXT",
		"INTEGER":          "INTEGER",
		"BIGINT":           "BIGINT",
		"DOUBLE PRECISION": "DOUBLE PRECISION",
		"BOOLEAN":          "BOOLEAN",
		"TIMESTAMPTZ":      "TIMESTAMPTZ",
		"JSONB":            "JSONB",
	}
)

// ColumnSpec names a column to add during schema evolution.
type ColumnSpec struct {
	Table  string
	Column string
	Type   string
}

// Validate checks the spec against the table allow-list, identifier rules
// and supported types, returning the canonical type name.
func (c ColumnSpec) Validate() (string, error) {
	if !evolvableTables[c.Table] {
		return "", fmt.Errorf("%w: table %q cannot be altered", ErrInvalidColumn, c.Table)
	}
	if !identRe.MatchString(c.Column) {
		return "", fmt.Errorf("%w: %q is not a valid column name", ErrInvalidColumn, c.Column)
	}
	typ, ok := columnTypes[strings.ToUpper(strings.Join(strings.Fields(c.Type), " "))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported type %q", ErrInvalidColumn, c.Type)
	}
	return typ, nil
}

func (c ColumnSpec) statement(typ string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pq.QuoteIdentifier(c.Table), pq.QuoteIdentifier(c.Column), typ)
}

// AddColumn adds a nullable column for forward-compatible fields. It runs
// outside any transaction and is a no-op if the column already exists.
func (s *PostgresStore) AddColumn(ctx context.Context, spec ColumnSpec) error {
	typ, err := spec.Validate()
	if err != nil {
		return err
	}
	if _, err := s.db.DB.ExecContext(ctx, spec.statement(typ)); err != nil {
		return fmt.Errorf("adding column %s.%s: %w", spec.Table, spec.Column, err)
	}
	s.logger.Info("column added", "table", spec.Table, "column", spec.Column, "type", typ)
	return nil
}
