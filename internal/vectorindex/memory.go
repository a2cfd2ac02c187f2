package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Memory is an exact, brute-force Index held in process memory.
type Memory struct {
	mu      sync.RWMutex
	dims    int
	records map[string]Record
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty index. dims of 0 accepts any size.
func NewMemory(dims int) *Memory {
	return &Memory{dims: dims, records: make(map[string]Record)}
}

func (m *Memory) Upsert(_ context.Context, records []Record) error {
	for _, r := range records {
		if m.dims > 0 && len(r.Vector) != m.dims {
			return fmt.Errorf("%w: listing %s has %d dims, want %d", ErrDimension, r.ID, len(r.Vector), m.dims)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.EmbeddedAt.IsZero() {
			r.EmbeddedAt = time.Now().UTC()
		}
		r.Vector = append([]float32(nil), r.Vector...)
		m.records[r.ID] = r
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	if m.dims > 0 && len(vector) != m.dims {
		return nil, fmt.Errorf("%w: query has %d dims, want %d", ErrDimension, len(vector), m.dims)
	}
	m.mu.RLock()
	matches := make([]Match, 0, len(m.records))
	for _, r := range m.records {
		meta := map[string]string{MetaEmbeddedAt: r.EmbeddedAt.Format(time.RFC3339)}
		for k, v := range r.Metadata {
			meta[k] = v
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Document: r.Document,
			Distance: CosineDistance(vector, r.Vector),
			Metadata: meta,
		})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Get returns the stored record for id.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// CosineDistance is 1 - cos(a, b). Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
