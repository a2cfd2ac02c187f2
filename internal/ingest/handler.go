package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/normalize"
	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
)

// maxBodyBytes bounds one pushed record.
const maxBodyBytes = 16 << 20

// Response is returned after a pushed record is stored.
type Response struct {
	ListingID string   `json:"listing_id"`
	Action    string   `json:"action"`
	Changed   []string `json:"changed,omitempty"`
	Missing   []string `json:"missing,omitempty"`
}

// Handler accepts raw records pushed by an extraction collaborator.
type Handler struct {
	pipeline *Pipeline
	sites    map[string]normalize.SiteConfig
	logger   *slog.Logger
}

func NewHandler(p *Pipeline, sites map[string]normalize.SiteConfig) *Handler {
	return &Handler{
		pipeline: p,
		sites:    sites,
		logger:   slog.Default().With("component", "ingest-handler"),
	}
}

// Register mounts POST /api/v1/raw on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/raw", h.Ingest)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var rec RawRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg, ok := h.sites[rec.Site]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unknown site")
		return
	}

	out, err := h.pipeline.Process(ctx, rec, cfg)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation failed",
				"fields":  validationErr.Fields,
				"missing": out.Missing,
			})
			return
		}
		status := apperrors.HTTPStatusCode(err)
		log.Error("ingest failed", "error", err, "status_code", status)
		h.writeError(w, status, "ingest failed")
		return
	}

	status := http.StatusOK
	if out.Result.Action == listing.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, Response{
		ListingID: out.Listing.ID,
		Action:    out.Result.Label(),
		Changed:   out.Result.Changed,
		Missing:   out.Missing,
	})
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
