package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "embeddings_storage", cfg.Qdrant.Collection)
	assert.Equal(t, []string{"http://localhost:1704"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 100, cfg.Sync.BatchLimit)
	assert.Equal(t, "listing.upserted", cfg.Kafka.Topics.ListingUpserted)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yml := `
server:
  port: 9000
sync:
  batchLimit: 25
  interval: 30s
query:
  defaultTopK: 5
  maxTopK: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("RSS_POSTGRES_HOST", "db.internal")
	t.Setenv("RSS_CORS_ALLOW_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Sync.BatchLimit)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Query.DefaultTopK)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	bad := defaultConfig()
	bad.Sync.BatchLimit = 0
	assert.Error(t, bad.Validate())

	bad = defaultConfig()
	bad.Query.MaxTopK = 1
	assert.Error(t, bad.Validate())

	bad = defaultConfig()
	bad.Qdrant.Collection = ""
	assert.Error(t, bad.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 1, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=1 user=u password=p dbname=d sslmode=disable", p.DSN())
}
