package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/ingest"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed/postgres/models"
)

const (
	ActionFetchLatest = "fetch_latest"
	ActionSearch      = "search"
	ActionGetStats    = "get_stats"

	// maxBodyBytes bounds the action envelope; it never carries records.
	maxBodyBytes = 1 << 20

	defaultIngestTimeout = 60 * time.Second
)

var (
	ErrInvalidAction = errors.New("Invalid action")
	ErrInvalidBody   = errors.New("Invalid request body")
)

// =============== Dependencies ===============

// Ingester runs one fetch → normalize → upsert pass.
type Ingester interface {
	Run(ctx context.Context, trigger string) (ingest.Result, error)
}

// Searcher answers free-text queries.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]vulnfeed.Vulnerability, error)
}

// StatsReader returns aggregate counts.
type StatsReader interface {
	Stats(ctx context.Context) (vulnfeed.Stats, error)
}

// Options configure a Handler. IngestTimeout and SearchLimit fall back to
// their defaults when zero.
type Options struct {
	IngestTimeout time.Duration
	SearchLimit   int
}

// =============== Wire types ===============

// ActionRequest is the body of every POST.
type ActionRequest struct {
	Action string `json:"action"`
	Query  string `json:"query,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type fetchResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Skipped int    `json:"skipped"`
	Message string `json:"message"`
}

type searchResponse struct {
	Success         bool                     `json:"success"`
	Vulnerabilities []vulnfeed.Vulnerability `json:"vulnerabilities"`
	Count           int                      `json:"count"`
}

type statsResponse struct {
	Success bool           `json:"success"`
	Stats   vulnfeed.Stats `json:"stats"`
}

// =============== Handler ===============

// Handler dispatches the action envelope to the ingest, search and stats
// components.
type Handler struct {
	ingester Ingester
	searcher Searcher
	stats    StatsReader
	opts     Options
}

// NewHandler creates a Handler.
func NewHandler(ingester Ingester, searcher Searcher, stats StatsReader, opts Options) *Handler {
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = defaultIngestTimeout
	}
	return &Handler{ingester: ingester, searcher: searcher, stats: stats, opts: opts}
}

// ServeHTTP handles POST action requests. OPTIONS and the CORS headers are
// handled by the surrounding middleware.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("Method not allowed"))
		return
	}

	req, err := decodeAction(r)
	if err != nil {
		logger(r).Warn("Rejected request body", "error", err)
		writeError(w, http.StatusBadRequest, ErrInvalidBody)
		return
	}

	switch req.Action {
	case ActionFetchLatest:
		h.fetchLatest(w, r)
	case ActionSearch:
		h.search(w, r, req.Query)
	case ActionGetStats:
		h.getStats(w, r)
	default:
		logger(r).Warn("Rejected unknown action", "action", req.Action)
		writeError(w, http.StatusBadRequest, ErrInvalidAction)
	}
}

func decodeAction(r *http.Request) (ActionRequest, error) {
	var req ActionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode action: %w", err)
	}
	return req, nil
}

func (h *Handler) fetchLatest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.IngestTimeout)
	defer cancel()

	result, err := h.ingester.Run(ctx, models.TriggerAPI)
	if err != nil {
		logger(r).Error("Ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, fetchResponse{
		Success: true,
		Count:   result.Stored,
		Skipped: len(result.Skipped),
		Message: result.Message(),
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, query string) {
	records, err := h.searcher.Search(r.Context(), query, h.opts.SearchLimit)
	if err != nil {
		logger(r).Error("Search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []vulnfeed.Vulnerability{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Success:         true,
		Vulnerabilities: records,
		Count:           len(records),
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		logger(r).Error("Stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

// =============== Helpers ===============

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}
