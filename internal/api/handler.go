package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// bulkLimit caps the number of transactions per bulk request.
const bulkLimit = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	reports  *report.Generator
	stats    *stats.Collector
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	p *pipeline.Pipeline,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	engine *rules.Engine,
	reports *report.Generator,
	collector *stats.Collector,
	version string,
) *Handler {
	return &Handler{
		pipeline: p,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		reports:  reports,
		stats:    collector,
		version:  version,
	}
}

// Analyze handles POST /analyze requests: one transaction through the
// full pipeline, synchronously.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be non-negative",
		})
		return
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.New().String()
	}

	outcome, err := h.pipeline.Process(r.Context(), req.ToTransaction())
	if err != nil {
		slog.Error("analysis failed", "transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// BulkRequest is the request body for POST /analyze/bulk.
type BulkRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// BulkResponse is the response for POST /analyze/bulk.
type BulkResponse struct {
	Results []*pipeline.Outcome `json:"results"`
	Total   int                 `json:"total"`
	Flagged int                 `json:"flagged"`
	Alerts  int                 `json:"alerts"`
	TotalMs int64               `json:"totalMs"`
}

// AnalyzeBulk handles POST /analyze/bulk requests.
func (h *Handler) AnalyzeBulk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions are required",
		})
		return
	}
	if len(req.Transactions) > bulkLimit {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "too many transactions: the limit is 100 per request",
		})
		return
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	for i := range req.Transactions {
		if req.Transactions[i].TransactionID == "" {
			req.Transactions[i].TransactionID = uuid.New().String()
		}
		txs[i] = req.Transactions[i].ToTransaction()
	}

	outcomes := h.pipeline.ProcessBatch(r.Context(), txs)

	resp := BulkResponse{
		Results: outcomes,
		Total:   len(outcomes),
		TotalMs: time.Since(start).Milliseconds(),
	}
	for _, outcome := range outcomes {
		if outcome.Result != nil && outcome.Result.Flagged {
			resp.Flagged++
		}
		if outcome.Alert != nil {
			resp.Alerts++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAnalysis retrieves an analysis result by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "id")

	result, err := h.repo.GetAnalysis(r.Context(), analysisID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts retrieves recent alerts, optionally filtered by severity.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	severity := domain.Severity(r.URL.Query().Get("severity"))
	switch severity {
	case "", domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be HIGH, MEDIUM, or LOW",
		})
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	alerts, err := h.repo.ListAlerts(r.Context(), severity, since, 0)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	a, err := h.repo.GetAlert(r.Context(), alertID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Stats returns the pipeline statistics snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// ListRules returns all loaded flag rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a flag rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new flag rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.FlagRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Score:       req.Score,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression and score before persisting.
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveFlagRule(ctx, rule); err != nil {
		slog.Error("failed to save flag rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("flag rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all flag rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListFlagRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("flag rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ReportRequest is the request body for POST /reports. An omitted
// window defaults to the last 24 hours.
type ReportRequest struct {
	WindowStart *time.Time `json:"windowStart,omitempty"`
	WindowEnd   *time.Time `json:"windowEnd,omitempty"`
}

// GenerateReport handles POST /reports requests.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	windowEnd := time.Now().UTC()
	if req.WindowEnd != nil {
		windowEnd = *req.WindowEnd
	}
	windowStart := windowEnd.Add(-24 * time.Hour)
	if req.WindowStart != nil {
		windowStart = *req.WindowStart
	}

	generated, err := h.reports.Generate(r.Context(), windowStart, windowEnd)
	if err != nil {
		slog.Error("report generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "report generation failed: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, generated)
}

// GetReport retrieves a report by ID.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "id")

	rep, err := h.repo.GetReport(r.Context(), reportID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
