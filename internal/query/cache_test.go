package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildKey(t *testing.T) {
	base := buildKey("Sunny  Two Bed", 5)
	assert.Equal(t, base, buildKey("Sunny Two Bed", 5))
	assert.Equal(t, base, buildKey("  Sunny Two\tBed ", 5))
	assert.NotEqual(t, base, buildKey("sunny two bed", 5), "the embedder sees case, so the key does too")
	assert.NotEqual(t, base, buildKey("Sunny Two Bed", 6))
	assert.NotEqual(t, base, buildKey("Two Bed Sunny", 5), "word order matters for embeddings")
	assert.Contains(t, base, keyPrefix)
}
