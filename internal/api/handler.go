package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/cases"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/policy"
	"github.com/opensource-finance/harrier/internal/query"
)

// Producer appends raw records to the transaction log. Satisfied by the
// in-memory broker.
type Producer interface {
	Append(topic, originID string, payload []byte) (int32, int64)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	query     *query.Service
	manager   *cases.Manager
	promotion *policy.Promotion
	producer  Producer
	repo      domain.Repository
	topic     string
	version   string
}

// NewHandler creates a new API handler. producer and repo may be nil.
func NewHandler(q *query.Service, manager *cases.Manager, promotion *policy.Promotion, producer Producer, repo domain.Repository, topic, version string) *Handler {
	return &Handler{
		query:     q,
		manager:   manager,
		promotion: promotion,
		producer:  producer,
		repo:      repo,
		topic:     topic,
		version:   version,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready. Reports 503 until the repository answers pings.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListCases handles GET /cases with optional status and level filters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))
	level := domain.RiskLevel(r.URL.Query().Get("level"))
	out := h.query.ListCases(r.Context(), status, level)
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": out,
		"count": len(out),
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.query.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetGraph handles GET /cases/{id}/graph.
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.query.GetGraph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetDrivers handles GET /cases/{id}/drivers?limit=n.
func (h *Handler) GetDrivers(w http.ResponseWriter, r *http.Request) {
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	drivers, err := h.query.TopDrivers(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

// statusRequest is the request body for POST /cases/{id}/status.
type statusRequest struct {
	Status string `json:"status"`
}

// UpdateCaseStatus handles POST /cases/{id}/status.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.manager.Transition(r.Context(), chi.URLParam(r, "id"), domain.CaseStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCaseNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
		case errors.Is(err, domain.ErrCaseClosed), errors.Is(err, domain.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ReopenCase handles POST /cases/{id}/reopen.
func (h *Handler) ReopenCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Reopen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCaseNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
		case errors.Is(err, domain.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetProfile handles GET /profiles/{id}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.query.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrProfileNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		case errors.Is(err, domain.ErrLookupUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "profile store unavailable"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetEntityState handles GET /entities/{id}.
func (h *Handler) GetEntityState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.GetEntityState(r.Context(), chi.URLParam(r, "id")))
}

// Partitions handles GET /partitions.
func (h *Handler) Partitions(w http.ResponseWriter, r *http.Request) {
	out, err := h.query.Partitions(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrBrokerUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker unavailable"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"partitions": out})
}

// submitRequest carries the fields the producer needs before the pipeline's
// own validation sees the record.
type submitRequest struct {
	NameOrig string `json:"nameOrig"`
}

// SubmitTransaction handles POST /transactions: the raw record goes onto the
// log partitioned by origin, and the pipeline picks it up asynchronously.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if h.producer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "transaction intake is not enabled",
		})
		return
	}

	var buf json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&buf); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	var req submitRequest
	if err := json.Unmarshal(buf, &req); err != nil || req.NameOrig == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "nameOrig is required",
		})
		return
	}

	partition, offset := h.producer.Append(h.topic, req.NameOrig, buf)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"partition": partition,
		"offset":    offset,
	})
}

// policyRequest is the request body for POST /policy/reload.
type policyRequest struct {
	Expression string `json:"expression"`
}

// GetPolicy handles GET /policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"expression": h.promotion.Expression(),
	})
}

// ReloadPolicy handles POST /policy/reload. A failed compile leaves the
// current policy in place.
func (h *Handler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.promotion.Reload(req.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("promotion policy reloaded", "expression", h.promotion.Expression())
	writeJSON(w, http.StatusOK, map[string]string{
		"expression": h.promotion.Expression(),
	})
}

func writeCaseError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrCaseNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
