package listing

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	l := sample()

	first, err := s.Upsert(ctx, l, Capture{SourceURL: "https://example.com/1"})
	require.NoError(t, err)
	second, err := s.Upsert(ctx, l, Capture{SourceURL: "https://example.com/1"})
	require.NoError(t, err)

	assert.Equal(t, Created, first.Action)
	assert.Equal(t, Updated, second.Action)
	assert.True(t, second.NoOp())

	history, err := s.History(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	got, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	got.CreatedAt, got.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, l, got)
}

func TestMemoryStore_UpdatedAtAdvances(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return t0 })
	_, err := s.Upsert(ctx, sample(), Capture{})
	require.NoError(t, err)

	s.SetClock(func() time.Time { return t0.Add(time.Hour) })
	_, err = s.Upsert(ctx, sample(), Capture{})
	require.NoError(t, err)

	got, err := s.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, t0, got.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
}

func TestMemoryStore_RejectsEmptyID(t *testing.T) {
	_, err := NewMemoryStore().Upsert(context.Background(), Listing{}, Capture{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMemoryStore_ClaimMarkWatermark(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Upsert(ctx, sample(), Capture{})
	_, _ = s.Upsert(ctx, sample(), Capture{})

	claims, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, int64(2), claims[0].UpToEventID)

	again, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased listings are not handed out twice")

	_, _ = s.Upsert(ctx, sample(), Capture{})

	n, err := s.MarkVectorised(ctx, claims[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := s.Unvectorised(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-1"}, pending, "event logged after the claim stays pending")

	history, _ := s.History(ctx, "L-1")
	flags := []bool{}
	for _, e := range history {
		flags = append(flags, e.Vectorised)
	}
	assert.Equal(t, []bool{false, true, true}, flags)
}

func TestMemoryStore_ClaimSkipsListingWithLiveLease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Upsert(ctx, sample(), Capture{})

	first, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A re-scrape while the first claim is in flight adds a newer, unleased event.
	_, _ = s.Upsert(ctx, sample(), Capture{})
	again, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "listing stays with the runner holding the older lease")

	_, err = s.MarkVectorised(ctx, first[0])
	require.NoError(t, err)

	next, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, int64(2), next[0].UpToEventID)
}

func TestMemoryStore_ClaimAfterLeaseLapses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	_, _ = s.Upsert(ctx, sample(), Capture{})

	first, _ := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.Len(t, first, 1)
	_, _ = s.Upsert(ctx, sample(), Capture{})

	now = now.Add(2 * time.Minute)
	next, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, int64(2), next[0].UpToEventID)
}

func TestMemoryStore_ReleaseClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Upsert(ctx, sample(), Capture{})

	claims, _ := s.ClaimUnvectorised(ctx, 1, time.Hour)
	require.Len(t, claims, 1)
	require.NoError(t, s.ReleaseClaim(ctx, "L-1"))

	claims, _ = s.ClaimUnvectorised(ctx, 1, time.Hour)
	assert.Len(t, claims, 1)
}

func TestMemoryStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, b := sample(), sample()
	b.ID, b.Price = "L-2", 350
	_, _ = s.Upsert(ctx, a, Capture{})
	_, _ = s.Upsert(ctx, b, Capture{})
	_, _ = s.Upsert(ctx, b, Capture{})

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalListings: 2, TotalEvents: 3, AveragePrice: 500, Unvectorised: 2}, st)
}

func TestMemoryStore_DedupeHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for range 3 {
		_, err := s.Upsert(ctx, Listing{ID: "a"}, Capture{})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, Listing{ID: "b"}, Capture{})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, Listing{ID: "b"}, Capture{})
	require.NoError(t, err)

	// Mixed flags on b: its pending event must survive.
	cands, err := s.ClaimUnvectorised(ctx, 10, time.Minute)
	require.NoError(t, err)
	for _, c := range cands {
		if c.ListingID == "b" {
			_, err := s.MarkVectorised(ctx, Candidate{ListingID: "b", UpToEventID: c.UpToEventID - 1})
			require.NoError(t, err)
		}
	}

	n, err := s.DedupeHistory(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	history, err := s.History(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 1, history[0].ID, "earliest event is kept")

	history, err = s.History(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
