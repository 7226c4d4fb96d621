package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/metrics"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/vectordb"
)

// IngestService accepts wide events and manages their embeddings.
type IngestService interface {
	IngestEvents(ctx context.Context, events []event.WideEvent) (stored, queued int64, err error)
	ProcessPendingLogs(ctx context.Context, limit int) (embedded, failed int, err error)
	EmbedByRequestID(ctx context.Context, requestID string) error
	Search(ctx context.Context, text string, md query.Metadata, limit int) ([]vectordb.SearchResult, error)
}

// IngestHandler handles event ingestion and raw search HTTP requests.
type IngestHandler struct {
	svc     IngestService
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(svc IngestService, m *metrics.Metrics, log *logger.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, metrics: m, log: log}
}

// RegisterRoutes registers ingest and search routes.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
			return
		}
		h.handleIngest(w, r)
	})

	mux.HandleFunc("/v1/ingest/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
			return
		}
		h.handleProcess(w, r)
	})

	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
			return
		}
		h.handleSearch(w, r)
	})
}

type ingestRequest struct {
	Events []event.WideEvent `json:"events"`
}

// handleIngest handles POST /v1/events
func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if len(req.Events) == 0 {
		apperrors.WriteError(w, apperrors.ValidationError("events cannot be empty"))
		return
	}

	stored, queued, err := h.svc.IngestEvents(r.Context(), req.Events)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordIngest(int(stored))
	}

	writeJSON(w, http.StatusAccepted, map[string]int64{
		"stored": stored,
		"queued": queued,
	})
}

type processRequest struct {
	Limit     int    `json:"limit,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// handleProcess handles POST /v1/ingest/process, draining the pending
// embedding backlog. A request_id forces re-embedding of one record.
func (h *IngestHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteError(w, apperrors.ValidationError("invalid request body"))
			return
		}
	}

	if req.RequestID != "" {
		if err := h.svc.EmbedByRequestID(r.Context(), req.RequestID); err != nil {
			apperrors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"embedded": 1})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 256
	}

	embedded, failed, err := h.svc.ProcessPendingLogs(r.Context(), limit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordEmbeddingOutcome(embedded, failed)
	}

	writeJSON(w, http.StatusOK, map[string]any{"embedded": embedded, "failed": failed})
}

// handleSearch handles GET /v1/search?q=...&limit=...&service=...
func (h *IngestHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		apperrors.WriteError(w, apperrors.ValidationError("q parameter is required"))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			apperrors.WriteError(w, apperrors.ValidationError("limit must be between 1 and 100"))
			return
		}
		limit = parsed
	}

	md := query.Metadata{
		Service:   r.URL.Query().Get("service"),
		Route:     r.URL.Query().Get("route"),
		ErrorCode: r.URL.Query().Get("error_code"),
		UserRole:  r.URL.Query().Get("user_role"),
	}

	results, err := h.svc.Search(r.Context(), q, md, limit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": results,
	})
}
