package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/logsage/logsage/internal/metrics"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/session"
)

// AnswerService answers conversational questions about log behavior.
type AnswerService interface {
	Ask(ctx context.Context, sessionID, question string) (*session.AnalysisResult, error)
	GetChatHistory(ctx context.Context, sessionID string) ([]session.AnalysisResult, error)
	ClearSession(ctx context.Context, sessionID string) (bool, error)
}

// AskHandler handles question-answering HTTP requests.
type AskHandler struct {
	svc     AnswerService
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(svc AnswerService, m *metrics.Metrics, log *logger.Logger) *AskHandler {
	return &AskHandler{svc: svc, metrics: m, log: log}
}

// RegisterRoutes registers question and session routes.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			apperrors.WriteError(w, apperrors.New(apperrors.CodeInvalidRequest, "method not allowed"))
			return
		}
		h.handleAsk(w, r)
	})

	mux.HandleFunc("/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) == 0 || parts[0] == "" {
			apperrors.WriteError(w, apperrors.NotFoundError("session"))
			return
		}

		sessionID := parts[0]
		subPath := ""
		if len(parts) > 1 {
			subPath = parts[1]
		}

		switch {
		case subPath == "history" && r.Method == http.MethodGet:
			h.handleHistory(w, r, sessionID)
		case subPath == "" && r.Method == http.MethodDelete:
			h.handleClear(w, r, sessionID)
		default:
			apperrors.WriteError(w, apperrors.NotFoundError("session resource"))
		}
	})
}

type askRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// handleAsk handles POST /v1/ask
func (h *AskHandler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	start := time.Now()
	result, err := h.svc.Ask(r.Context(), req.SessionID, req.Question)
	if err != nil {
		h.recordAsk("", start, err)
		h.log.WithError(err).Warn("ask failed", "session_id", req.SessionID)
		apperrors.WriteError(w, err)
		return
	}

	h.recordAsk(string(result.Intent), start, nil)
	writeJSON(w, http.StatusOK, result)
}

// handleHistory handles GET /v1/sessions/{id}/history
func (h *AskHandler) handleHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	history, err := h.svc.GetChatHistory(r.Context(), sessionID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"history":    history,
	})
}

// handleClear handles DELETE /v1/sessions/{id}
func (h *AskHandler) handleClear(w http.ResponseWriter, r *http.Request, sessionID string) {
	removed, err := h.svc.ClearSession(r.Context(), sessionID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"removed":    removed,
	})
}

func (h *AskHandler) recordAsk(intent string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	code := ""
	if appErr, ok := err.(*apperrors.AppError); ok {
		code = appErr.Code
	} else if err != nil {
		code = apperrors.CodeInternal
	}
	h.metrics.RecordAsk(intent, time.Since(start).Milliseconds(), code)
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors after headers are sent cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}
