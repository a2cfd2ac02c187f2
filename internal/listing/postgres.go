package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/postgres"
	"github.com/lib/pq"
)

// ErrInvalidColumn is returned for rejected schema-evolution requests.
var ErrInvalidColumn = fmt.Errorf("%w: column spec", apperrors.ErrInvalidInput)

const listingColumns = `listing_id, price, description, address, bedrooms, bathrooms,
	carspaces, property_type, state, postcode, created_at, updated_at`

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on lib/pq.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "listing-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts or diff-updates the listing and appends one scrape event,
// all in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, l Listing, c Capture) (UpsertResult, error) {
	if strings.TrimSpace(l.ID) == "" {
		return UpsertResult{}, fmt.Errorf("%w: listing id is empty", apperrors.ErrInvalidInput)
	}
	now := s.now()
	if c.ScrapedAt.IsZero() {
		c.ScrapedAt = now
	}

	var result UpsertResult
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO listings (`+listingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (listing_id) DO NOTHING`,
			l.ID, l.Price, l.Description, l.Address, l.Bedrooms, l.Bathrooms,
			l.Carspaces, l.PropertyType, l.State, l.Postcode, now,
		)
		if err != nil {
			return fmt.Errorf("inserting listing %s: %w", l.ID, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading insert result: %w", err)
		}

		if inserted == 1 {
			result.Action = Created
		} else {
			stored, err := scanListing(tx.QueryRowContext(ctx,
				`SELECT `+listingColumns+` FROM listings WHERE listing_id = $1 FOR UPDATE`, l.ID))
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: listing %s conflicted on insert but is not readable", apperrors.ErrIntegrity, l.ID)
			}
			if err != nil {
				return fmt.Errorf("locking listing %s: %w", l.ID, err)
			}
			changed := diff(stored, l)
			query, args := buildUpdate(l.ID, changed, now)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("updating listing %s: %w", l.ID, err)
			}
			result.Action = Updated
			result.Changed = columnNames(changed)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO scrape_events (listing_id, scraped_at, source_url)
			VALUES ($1, $2, $3)
			RETURNING id`,
			l.ID, c.ScrapedAt, c.SourceURL,
		).Scan(&result.EventID)
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: event for missing listing %s", apperrors.ErrIntegrity, l.ID)
			}
			return fmt.Errorf("logging scrape event for %s: %w", l.ID, err)
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// buildUpdate renders a partial UPDATE for the changed columns. updated_at is
// always bumped, so an empty change set still touches the row.
func buildUpdate(id string, changed []column, now time.Time) (string, []any) {
	sets := make([]string, 0, len(changed)+1)
	args := make([]any, 0, len(changed)+2)
	args = append(args, id)
	for _, c := range changed {
		args = append(args, c.value)
		sets = append(sets, c.name+" = $"+strconv.Itoa(len(args)))
	}
	args = append(args, now)
	sets = append(sets, "updated_at = $"+strconv.Itoa(len(args)))
	return "UPDATE listings SET " + strings.Join(sets, ", ") + " WHERE listing_id = $1", args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (Listing, error) {
	var l Listing
	err := row.Scan(
		&l.ID, &l.Price, &l.Description, &l.Address, &l.Bedrooms, &l.Bathrooms,
		&l.Carspaces, &l.PropertyType, &l.State, &l.Postcode, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// Get fetches one listing.
func (s *PostgresStore) Get(ctx context.Context, id string) (Listing, error) {
	l, err := scanListing(s.db.DB.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE listing_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, fmt.Errorf("listing %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return Listing{}, fmt.Errorf("fetching listing %s: %w", id, err)
	}
	return l, nil
}

// GetMany fetches the listings that exist among ids.
func (s *PostgresStore) GetMany(ctx context.Context, ids []string) (map[string]Listing, error) {
	out := make(map[string]Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE listing_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetching listings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

// List returns listings most-recently-updated first. A non-positive limit
// returns everything.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY updated_at DESC, listing_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, max(offset, 0))
	}
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	defer rows.Close()
	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// History returns the scrape events of one listing, newest first.
func (s *PostgresStore) History(ctx context.Context, id string) ([]ScrapeEvent, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, listing_id, scraped_at, source_url, vectorised
		FROM scrape_events
		WHERE listing_id = $1
		ORDER BY scraped_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", id, err)
	}
	defer rows.Close()
	var out []ScrapeEvent
	for rows.Next() {
		var e ScrapeEvent
		if err := rows.Scan(&e.ID, &e.ListingID, &e.ScrapedAt, &e.SourceURL, &e.Vectorised); err != nil {
			return nil, fmt.Errorf("scanning scrape event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM listings),
			(SELECT COUNT(*) FROM scrape_events),
			(SELECT COALESCE(AVG(price), 0) FROM listings),
			(SELECT COUNT(*) FROM (
				SELECT DISTINCT ON (listing_id) vectorised
				FROM scrape_events
				ORDER BY listing_id, id DESC
			) latest WHERE NOT latest.vectorised)`,
	).Scan(&st.TotalListings, &st.TotalEvents, &st.AveragePrice, &st.Unvectorised)
	if err != nil {
		return Stats{}, fmt.Errorf("computing stats: %w", err)
	}
	return st, nil
}

// latestEvents selects each listing's newest scrape event.
const latestEvents = `
	SELECT DISTINCT ON (listing_id) id, listing_id, vectorised, claimed_until
	FROM scrape_events
	ORDER BY listing_id, id DESC`

// Unvectorised lists ids whose newest event is not vectorised, oldest
// pending first. It does not claim them.
func (s *PostgresStore) Unvectorised(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		WITH latest AS (`+latestEvents+`)
		SELECT listing_id FROM latest
		WHERE NOT vectorised
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unvectorised: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimUnvectorised leases up to limit pending listings. The lease is stored
// on each listing's newest event, and a listing is skipped while any of its
// events still holds a live lease, so an event appended mid-run cannot hand
// the listing to a second runner. The UPDATE re-checks both conditions under
// the row lock.
func (s *PostgresStore) ClaimUnvectorised(ctx context.Context, limit int, lease time.Duration) ([]Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.DB.QueryContext(ctx, `
		WITH latest AS (`+latestEvents+`),
		pick AS (
			SELECT id FROM latest
			WHERE NOT vectorised
			  AND NOT EXISTS (
				SELECT 1 FROM scrape_events x
				WHERE x.listing_id = latest.listing_id AND x.claimed_until > NOW()
			  )
			ORDER BY id
			LIMIT $1
		)
		UPDATE scrape_events e
		SET claimed_until = NOW() + ($2::double precision * INTERVAL '1 millisecond')
		FROM pick
		WHERE e.id = pick.id
		  AND NOT e.vectorised
		  AND (e.claimed_until IS NULL OR e.claimed_until < NOW())
		  AND NOT EXISTS (
			SELECT 1 FROM scrape_events x
			WHERE x.listing_id = e.listing_id AND x.claimed_until > NOW()
		  )
		RETURNING e.listing_id, e.id`,
		limit, lease.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claiming unvectorised listings: %w", err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ListingID, &c.UpToEventID); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkVectorised flags every unresolved event of the listing up to the
// candidate's watermark and clears its claim. Events logged after the claim
// stay pending.
func (s *PostgresStore) MarkVectorised(ctx context.Context, c Candidate) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE scrape_events
		SET vectorised = TRUE, claimed_until = NULL
		WHERE listing_id = $1 AND id <= $2 AND NOT vectorised`,
		c.ListingID, c.UpToEventID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking %s vectorised: %w", c.ListingID, err)
	}
	return res.RowsAffected()
}

// ReleaseClaim drops the lease on the listing's pending events so the next
// run can pick it up.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, id string) error {
	_, err := s.db.DB.ExecContext(ctx, `
		UPDATE scrape_events SET claimed_until = NULL
		WHERE listing_id = $1 AND NOT vectorised AND claimed_until IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("releasing claim on %s: %w", id, err)
	}
	return nil
}

// DedupeHistory collapses history to the earliest event per listing. An
// empty id repairs every listing. Listings whose events disagree on the
// vectorised flag are skipped so a pending re-embed is not lost.
func (s *PostgresStore) DedupeHistory(ctx context.Context, id string) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, `
		WITH eligible AS (
			SELECT listing_id, MIN(id) AS keep_id
			FROM scrape_events
			WHERE $1::text = '' OR listing_id = $1
			GROUP BY listing_id
			HAVING COUNT(*) > 1 AND COUNT(DISTINCT vectorised) = 1
		)
		DELETE FROM scrape_events e
		USING eligible
		WHERE e.listing_id = eligible.listing_id AND e.id <> eligible.keep_id`, id)
	if err != nil {
		return 0, fmt.Errorf("deduplicating history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Info("history deduplicated", "listing_id", id, "deleted", n)
	return n, nil
}
