package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIngestMux() *http.ServeMux {
	mux := http.NewServeMux()
	p := NewPipeline(listing.NewMemoryStore())
	NewHandler(p, map[string]normalize.SiteConfig{"domain": testSite}).Register(mux)
	return mux
}

func post(mux http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/raw", strings.NewReader(body)))
	return rec
}

func TestHandler_CreatedThenUnchanged(t *testing.T) {
	mux := newIngestMux()
	body := `{"site": "domain", "url": "https://www.domain.test/7", "payload": {"props": {"pageProps": {"listingId": "7", "details": {"price": "$650 per week"}}}}}`

	rec := post(mux, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "7", resp.ListingID)
	assert.Equal(t, "created", resp.Action)
	assert.Contains(t, resp.Missing, "description")

	rec = post(mux, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unchanged", resp.Action)
}

func TestHandler_Errors(t *testing.T) {
	mux := newIngestMux()

	assert.Equal(t, http.StatusBadRequest, post(mux, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(mux, `{"site": "nope", "payload": {}}`).Code)

	rec := post(mux, `{"site": "domain", "payload": {"props": {"pageProps": {}}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation failed")
}
