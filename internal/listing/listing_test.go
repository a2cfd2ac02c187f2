package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sample() Listing {
	return Listing{
		ID:           "L-1",
		Price:        650,
		Description:  "Two bed unit near the beach",
		Address:      "1 Ocean Pde, Bondi NSW 2026",
		Bedrooms:     2,
		Bathrooms:    1,
		Carspaces:    1,
		PropertyType: "apartment unit flat",
		State:        "NSW",
		Postcode:     "2026",
	}
}

func TestDiff(t *testing.T) {
	stored := sample()
	incoming := sample()
	assert.Empty(t, diff(stored, incoming))

	incoming.Price = 700
	incoming.Bedrooms = 3
	incoming.CreatedAt = time.Now()
	assert.Equal(t, []string{"price", "bedrooms"}, columnNames(diff(stored, incoming)))
}

func TestBuildUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	changed := []column{{FieldPrice, 700.0}, {FieldState, "VIC"}}

	query, args := buildUpdate("L-1", changed, now)
	assert.Equal(t, "UPDATE listings SET price = $2, state = $3, updated_at = $4 WHERE listing_id = $1", query)
	assert.Equal(t, []any{"L-1", 700.0, "VIC", now}, args)

	query, args = buildUpdate("L-1", nil, now)
	assert.Equal(t, "UPDATE listings SET updated_at = $2 WHERE listing_id = $1", query)
	assert.Equal(t, []any{"L-1", now}, args)
}

func TestUpsertResult_Label(t *testing.T) {
	assert.Equal(t, "created", UpsertResult{Action: Created}.Label())
	assert.Equal(t, "updated", UpsertResult{Action: Updated, Changed: []string{"price"}}.Label())
	assert.Equal(t, "unchanged", UpsertResult{Action: Updated}.Label())
	assert.True(t, UpsertResult{Action: Updated}.NoOp())
	assert.False(t, UpsertResult{Action: Created}.NoOp())
}

func TestColumnSpec_Validate(t *testing.T) {
	typ, err := ColumnSpec{Table: "listings", Column: "floor_area", Type: "double   precision"}.Validate()
	assert.NoError(t, err)
	assert.Equal(t, "DOUBLE PRECISION", typ)

	bad := []ColumnSpec{
		{Table: "users", Column: "x", Type: "TEXT"},
		{Table: "listings", Column: "x; DROP TABLE listings", Type: "TEXT"},
		{Table: "listings", Column: "Upper", Type: "TEXT"},
		{Table: "listings", Column: "ok", Type: "TEXT; --"},
	}
	for _, spec := range bad {
		_, err := spec.Validate()
		assert.ErrorIs(t, err, ErrInvalidColumn, "%+v", spec)
	}
}

func TestColumnSpec_Statement(t *testing.T) {
	spec := ColumnSpec{Table: "listings", Column: "floor_area", Type: "INTEGER"}
	assert.Equal(t, `ALTER TABLE "listings" ADD COLUMN IF NOT EXISTS "floor_area" INTEGER`, spec.statement("INTEGER"))
}
