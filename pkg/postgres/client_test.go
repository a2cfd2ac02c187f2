package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	fk := &pq.Error{Code: "23503"}
	dupCol := &pq.Error{Code: "42701"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(fk))
	assert.True(t, IsForeignKeyViolation(fk))
	assert.True(t, IsDuplicateColumn(dupCol))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsDuplicateColumn(nil))
}
