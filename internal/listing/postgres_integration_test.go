//go:build integration

// Run with:
//
//	go test -v -tags=integration ./internal/listing/...
package listing

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable and
// otherwise returns a store over freshly truncated tables.
func skipIfNoPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "properties_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "properties"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = db.DB.ExecContext(ctx, `TRUNCATE scrape_events, listings RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}

func TestPostgresStore_UpsertCreatedThenUpdated(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	l := sample()

	first, err := s.Upsert(ctx, l, Capture{SourceURL: "https://example.com/1"})
	require.NoError(t, err)
	before, err := s.Get(ctx, l.ID)
	require.NoError(t, err)

	second, err := s.Upsert(ctx, l, Capture{SourceURL: "https://example.com/1"})
	require.NoError(t, err)

	assert.Equal(t, Created, first.Action)
	assert.Equal(t, Updated, second.Action)
	assert.True(t, second.NoOp())

	after, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Price, after.Price)
	assert.Equal(t, before.Description, after.Description)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	history, err := s.History(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	for _, e := range history {
		assert.False(t, e.Vectorised)
	}
}

func TestPostgresStore_PartialUpdate(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	l := sample()
	_, err := s.Upsert(ctx, l, Capture{})
	require.NoError(t, err)

	l.Price = 720
	res, err := s.Upsert(ctx, l, Capture{})
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, res.Changed)

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 720.0, got.Price)
}

func TestPostgresStore_ConcurrentUpsertsSameID(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan UpsertResult, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Upsert(ctx, sample(), Capture{})
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for r := range results {
		if r.Action == Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalListings)
	assert.EqualValues(t, 8, st.TotalEvents)
}

func TestPostgresStore_ClaimMarkRelease(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	a, b := sample(), sample()
	b.ID = "L-2"
	_, _ = s.Upsert(ctx, a, Capture{})
	_, _ = s.Upsert(ctx, a, Capture{})
	_, _ = s.Upsert(ctx, b, Capture{})

	claims, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claims, 2)

	again, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	for _, c := range claims {
		if c.ListingID == "L-1" {
			n, err := s.MarkVectorised(ctx, c)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n, "all unresolved events of the listing are marked")
		} else {
			require.NoError(t, s.ReleaseClaim(ctx, c.ListingID))
		}
	}

	pending, err := s.Unvectorised(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-2"}, pending)

	_, err = s.db.DB.ExecContext(ctx, `UPDATE scrape_events SET vectorised = FALSE WHERE listing_id = 'L-1'`)
	assert.Error(t, err, "vectorised is monotonic")
}

func TestPostgresStore_ClaimSkipsListingWithLiveLease(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	_, _ = s.Upsert(ctx, sample(), Capture{})

	first, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, _ = s.Upsert(ctx, sample(), Capture{})
	again, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = s.MarkVectorised(ctx, first[0])
	require.NoError(t, err)
	next, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Greater(t, next[0].UpToEventID, first[0].UpToEventID)
}

func TestPostgresStore_DedupeHistory(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Upsert(ctx, sample(), Capture{ScrapedAt: time.Now().Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	n, err := s.DedupeHistory(ctx, "L-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	history, err := s.History(ctx, "L-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 1, history[0].ID)
}

func TestPostgresStore_AddColumn(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()
	spec := ColumnSpec{Table: "listings", Column: "floor_area", Type: "integer"}
	require.NoError(t, s.AddColumn(ctx, spec))
	require.NoError(t, s.AddColumn(ctx, spec), "adding twice is a no-op")
	_, err := s.db.DB.ExecContext(ctx, `ALTER TABLE listings DROP COLUMN floor_area`)
	require.NoError(t, err)
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	s := skipIfNoPostgres(t)
	_, err := s.Get(context.Background(), "missing")
	assert.Error(t, err)
}
