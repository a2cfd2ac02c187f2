package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/vectorindex"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
)

// Searcher is the part of Service the handler depends on.
type Searcher interface {
	Search(ctx context.Context, text string, topK int) ([]vectorindex.Match, error)
}

// ListingReader resolves hits back to stored listings.
type ListingReader interface {
	Get(ctx context.Context, id string) (listing.Listing, error)
	GetMany(ctx context.Context, ids []string) (map[string]listing.Listing, error)
}

// Handler serves the retrieval HTTP surface.
type Handler struct {
	searcher Searcher
	listings ListingReader
	cfg      config.QueryConfig
	logger   *slog.Logger
}

// NewHandler builds a Handler. listings may be nil, which disables the
// listing endpoint and join-back.
func NewHandler(s Searcher, listings ListingReader, cfg config.QueryConfig) *Handler {
	return &Handler{
		searcher: s,
		listings: listings,
		cfg:      cfg,
		logger:   slog.Default().With("component", "retrieve-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /retrieve/", h.Retrieve)
	mux.HandleFunc("GET /api/v1/listings/{id}", h.Listing)
}

// Retrieve handles GET /retrieve/?term=...&k=... and answers with one entry
// per hit keyed "property_<rank>", rank 0 being the closest.
func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	term := r.URL.Query().Get("term")
	k := h.cfg.DefaultTopK
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		k = parsed
	}

	matches, err := h.searcher.Search(ctx, term, k)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("retrieve failed", "term", term, "error", err)
			h.writeError(w, status, http.StatusText(status))
			return
		}
		h.writeError(w, status, err.Error())
		return
	}

	var joined map[string]listing.Listing
	if h.listings != nil && h.cfg.JoinListings && len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		joined, err = h.listings.GetMany(ctx, ids)
		if err != nil {
			log.Warn("listing join failed, returning index fields only", "error", err)
			joined = nil
		}
	}

	resp := make(map[string]map[string]any, len(matches))
	for i, m := range matches {
		entry := map[string]any{
			"id":       m.ID,
			"document": m.Document,
			"distance": m.Distance,
		}
		if l, ok := joined[m.ID]; ok {
			entry[listing.FieldPrice] = l.Price
			entry[listing.FieldAddress] = l.Address
			entry[listing.FieldBedrooms] = l.Bedrooms
			entry[listing.FieldBathrooms] = l.Bathrooms
			entry[listing.FieldCarspaces] = l.Carspaces
			entry[listing.FieldPropertyType] = l.PropertyType
			entry[listing.FieldState] = l.State
			entry[listing.FieldPostcode] = l.Postcode
		}
		resp[fmt.Sprintf("property_%d", i)] = entry
	}

	log.Info("retrieve completed",
		"term", term,
		"k", k,
		"returned", len(matches),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Listing handles GET /api/v1/listings/{id}.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	if h.listings == nil {
		h.writeError(w, http.StatusServiceUnavailable, "listing store not configured")
		return
	}
	l, err := h.listings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("listing lookup failed", "error", err)
		}
		h.writeError(w, status, http.StatusText(status))
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
