package listing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
)

type memEvent struct {
	ScrapeEvent
	claimedUntil time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store with the same semantics as
// PostgresStore. The scraper uses it for dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	listings map[string]Listing
	events   []*memEvent
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]Listing),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) Upsert(_ context.Context, l Listing, c Capture) (UpsertResult, error) {
	if strings.TrimSpace(l.ID) == "" {
		return UpsertResult{}, fmt.Errorf("%w: listing id is empty", apperrors.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if c.ScrapedAt.IsZero() {
		c.ScrapedAt = now
	}
	var result UpsertResult
	stored, ok := m.listings[l.ID]
	if !ok {
		l.CreatedAt, l.UpdatedAt = now, now
		m.listings[l.ID] = l
		result.Action = Created
	} else {
		changed := diff(stored, l)
		l.CreatedAt, l.UpdatedAt = stored.CreatedAt, now
		m.listings[l.ID] = l
		result.Action = Updated
		result.Changed = columnNames(changed)
	}
	m.nextID++
	m.events = append(m.events, &memEvent{ScrapeEvent: ScrapeEvent{
		ID:        m.nextID,
		ListingID: l.ID,
		ScrapedAt: c.ScrapedAt,
		SourceURL: c.SourceURL,
	}})
	result.EventID = m.nextID
	return result, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return Listing{}, fmt.Errorf("listing %s: %w", id, apperrors.ErrNotFound)
	}
	return l, nil
}

func (m *MemoryStore) GetMany(_ context.Context, ids []string) (map[string]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Listing, len(ids))
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]Listing, error) {
	m.mu.Lock()
	out := make([]Listing, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit <= 0 {
		return out, nil
	}
	offset = max(offset, 0)
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *MemoryStore) History(_ context.Context, id string) ([]ScrapeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScrapeEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].ListingID == id {
			out = append(out, m.events[i].ScrapeEvent)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScrapedAt.After(out[j].ScrapedAt) })
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{TotalListings: int64(len(m.listings)), TotalEvents: int64(len(m.events))}
	if len(m.listings) > 0 {
		var sum float64
		for _, l := range m.listings {
			sum += l.Price
		}
		st.AveragePrice = sum / float64(len(m.listings))
	}
	for _, e := range m.latestLocked() {
		if !e.Vectorised {
			st.Unvectorised++
		}
	}
	return st, nil
}

// latestLocked returns each listing's newest event ordered by event id.
func (m *MemoryStore) latestLocked() []*memEvent {
	latest := make(map[string]*memEvent)
	for _, e := range m.events {
		latest[e.ListingID] = e
	}
	out := make([]*memEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) Unvectorised(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, e := range m.latestLocked() {
		if len(ids) >= limit {
			break
		}
		if !e.Vectorised {
			ids = append(ids, e.ListingID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) ClaimUnvectorised(_ context.Context, limit int, lease time.Duration) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	leased := make(map[string]bool)
	for _, e := range m.events {
		if now.Before(e.claimedUntil) {
			leased[e.ListingID] = true
		}
	}
	var out []Candidate
	for _, e := range m.latestLocked() {
		if len(out) >= limit {
			break
		}
		if e.Vectorised || leased[e.ListingID] {
			continue
		}
		e.claimedUntil = now.Add(lease)
		out = append(out, Candidate{ListingID: e.ListingID, UpToEventID: e.ID})
	}
	return out, nil
}

func (m *MemoryStore) MarkVectorised(_ context.Context, c Candidate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.events {
		if e.ListingID == c.ListingID && e.ID <= c.UpToEventID && !e.Vectorised {
			e.Vectorised = true
			e.claimedUntil = time.Time{}
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ReleaseClaim(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ListingID == id && !e.Vectorised {
			e.claimedUntil = time.Time{}
		}
	}
	return nil
}

// DedupeHistory mirrors PostgresStore.DedupeHistory.
func (m *MemoryStore) DedupeHistory(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type group struct {
		keep  int64
		count int
		flags map[bool]bool
	}
	groups := make(map[string]*group)
	for _, e := range m.events {
		if id != "" && e.ListingID != id {
			continue
		}
		g, ok := groups[e.ListingID]
		if !ok {
			g = &group{keep: e.ID, flags: make(map[bool]bool)}
			groups[e.ListingID] = g
		}
		g.keep = min(g.keep, e.ID)
		g.count++
		g.flags[e.Vectorised] = true
	}

	var deleted int64
	kept := m.events[:0]
	for _, e := range m.events {
		g, ok := groups[e.ListingID]
		if ok && g.count > 1 && len(g.flags) == 1 && e.ID != g.keep {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return deleted, nil
}
