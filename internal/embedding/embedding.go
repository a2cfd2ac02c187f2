// Package embedding turns text into fixed-size vectors using an Ollama model.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = 768 // nomic-embed-text default
)

// Embedder produces a vector for one text. The same Embedder must be used for
// indexing and querying.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Ollama generates embeddings through Ollama's HTTP API.
type Ollama struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	limiter    *rate.Limiter
}

var _ Embedder = (*Ollama)(nil)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllama builds a client from config, filling defaults for zero values.
// A positive RatePerSecond throttles outgoing calls.
func NewOllama(cfg config.EmbeddingConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	o := &Ollama{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
	if cfg.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	return o
}

// Embed returns the embedding of text. Failures wrap errors.ErrEmbedding.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limiter: %w", apperrors.ErrEmbedding, err)
		}
	}
	body, err := json.Marshal(embedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: ollama status %d: %s", apperrors.ErrEmbedding, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", apperrors.ErrEmbedding, err)
	}
	if len(out.Embedding) != o.dimensions {
		return nil, fmt.Errorf("%w: model %s returned %d dims, want %d",
			apperrors.ErrEmbedding, o.model, len(out.Embedding), o.dimensions)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (o *Ollama) Dimensions() int { return o.dimensions }

func (o *Ollama) Model() string { return o.model }

// Ping checks reachability via /api/tags without running inference.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: create ping request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: ping returned status %d", resp.StatusCode)
	}
	return nil
}
