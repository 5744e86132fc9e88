package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ml"
	"github.com/opensource-finance/harrier/internal/reports"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

// summaryCacheKey holds the unfiltered risk summary between requests.
const summaryCacheKey = "risk:summary"

// summaryCacheTTL bounds staleness of the cached summary.
const summaryCacheTTL = 30 * time.Second

// maxListResults caps the audit log and remediation task listings.
const maxListResults = 500

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	store      *alerts.Store
	generator  *reports.Generator
	classifier *ml.Classifier
	screening  *rules.ScreeningEngine
	scored     []domain.ScoredTransaction
	txIndex    map[string]*domain.Transaction
	version    string
}

// NewHandler creates a new API handler. scored is the full scored
// batch, flagged or not; the classifier trains and predicts over it.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *alerts.Store, generator *reports.Generator, classifier *ml.Classifier, screening *rules.ScreeningEngine, scored []domain.ScoredTransaction, version string) *Handler {
	txIndex := make(map[string]*domain.Transaction, len(scored))
	for i := range scored {
		txIndex[scored[i].Transaction.ID] = &scored[i].Transaction
	}
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		store:      store,
		generator:  generator,
		classifier: classifier,
		screening:  screening,
		scored:     scored,
		txIndex:    txIndex,
		version:    version,
	}
}

// Health reports service health. A failing repository or cache ping
// degrades the status but does not fail the request.
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

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"rows":    len(h.scored),
		"flagged": h.store.FlaggedCount(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// alertFilterFromQuery builds an alert filter from request query
// parameters. All recognized parameters are ANDed.
func alertFilterFromQuery(r *http.Request) domain.AlertFilter {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		CustomerID:          q.Get("customer_id"),
		Regulator:           q.Get("regulator"),
		BookingJurisdiction: q.Get("booking_jurisdiction"),
		TransactionID:       q.Get("transaction_id"),
	}

	if raw := q.Get("customer_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.CustomerIDs = append(filter.CustomerIDs, id)
			}
		}
	}

	if raw := q.Get("resolved"); raw != "" {
		if resolved, err := strconv.ParseBool(raw); err == nil {
			filter.Resolved = &resolved
		}
	}

	return filter
}

// ListFlags handles GET /api/flags.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	records := h.store.Query(r.Context(), alertFilterFromQuery(r))
	writeJSON(w, http.StatusOK, records)
}

// ResolveRequest is the request body for POST /api/alerts/resolve.
type ResolveRequest struct {
	TransactionID string `json:"transaction_id"`
	Note          string `json:"note,omitempty"`
}

// ResolveAlert handles POST /api/alerts/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction_id is required",
		})
		return
	}

	if _, err := h.store.Resolve(ctx, req.TransactionID, req.Note); err != nil {
		if errors.Is(err, alerts.ErrAlertNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert for transaction " + req.TransactionID + " not found or not suspicious",
			})
			return
		}
		slog.Error("failed to resolve alert", "transaction_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve alert",
		})
		return
	}

	// The cached summary does not reflect resolution state, but drop it
	// anyway so the next read is fresh after a lifecycle change.
	if h.cache != nil {
		if err := h.cache.Delete(ctx, summaryCacheKey); err != nil {
			slog.Debug("failed to invalidate summary cache", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "resolved",
		"transaction_id": req.TransactionID,
	})
}

// ListResolved handles GET /api/alerts/resolved.
func (h *Handler) ListResolved(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListResolved(r.Context()))
}

// RiskSummary handles GET /api/risk/summary. The unfiltered summary is
// cached; filtered summaries are computed per request.
func (h *Handler) RiskSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := alertFilterFromQuery(r)

	filtered := filter.CustomerID != "" || len(filter.CustomerIDs) > 0 ||
		filter.Regulator != "" || filter.BookingJurisdiction != ""
	if filtered {
		writeJSON(w, http.StatusOK, summaryFromRecords(h.store.Query(ctx, filter)))
		return
	}

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, summaryCacheKey); err == nil {
			var cached domain.RiskSummary
			if err := json.Unmarshal(data, &cached); err == nil {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	summary := h.store.Summary()

	if h.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := h.cache.Set(ctx, summaryCacheKey, data, summaryCacheTTL); err != nil {
				slog.Debug("failed to cache risk summary", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

func summaryFromRecords(records []domain.AlertRecord) domain.RiskSummary {
	summary := domain.RiskSummary{
		TotalFlagged:            len(records),
		ByCategory:              make(map[string]int),
		ByRegulator:             make(map[string]int),
		SuspiciousIndicatorHist: make(map[int]int),
	}
	for _, rec := range records {
		summary.ByCategory[rec.RiskCategory.String()]++
		regulator := rec.Regulator
		if regulator == "" {
			regulator = "UNKNOWN"
		}
		summary.ByRegulator[regulator]++
		summary.SuspiciousIndicatorHist[rec.SuspiciousDetectionCount]++
	}
	return summary
}

// AuditLogEntry is one row in the audit log listing.
type AuditLogEntry struct {
	TransactionID       string `json:"transaction_id"`
	Event               string `json:"event"`
	Regulator           string `json:"regulator"`
	BookingJurisdiction string `json:"booking_jurisdiction"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	Timestamp           string `json:"timestamp"`
}

// AuditLogs handles GET /api/audit/logs: one entry per flagged
// transaction, carrying the fired reasons as the event text.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	flagged := h.store.FlaggedTransactions()

	logs := make([]AuditLogEntry, 0, len(flagged))
	for i := range flagged {
		if len(logs) >= maxListResults {
			break
		}
		st := &flagged[i]
		event := st.Detection.ReasonText()
		if len(st.Detection.Reasons) == 0 {
			event = "Suspicion flagged"
		}
		logs = append(logs, AuditLogEntry{
			TransactionID:       st.Transaction.ID,
			Event:               event,
			Regulator:           st.Transaction.Regulator.String(),
			BookingJurisdiction: st.Transaction.BookingJurisdiction.String(),
			Amount:              st.Transaction.Amount.String(),
			Currency:            st.Transaction.Currency.String(),
			Timestamp:           st.Transaction.BookingDatetime.String(),
		})
	}

	writeJSON(w, http.StatusOK, logs)
}

// RemediationTask is one recommended-action item for a flagged
// transaction.
type RemediationTask struct {
	TransactionID string              `json:"transaction_id"`
	RiskCategory  domain.RiskCategory `json:"risk_category"`
	Actions       []string            `json:"actions"`
	CustomerID    string              `json:"customer_id"`
	Regulator     string              `json:"regulator"`
}

// RemediationTasks handles GET /api/remediation/tasks. Actions are
// derived from the fired reasons and the transaction's control
// evidence.
func (h *Handler) RemediationTasks(w http.ResponseWriter, r *http.Request) {
	flagged := h.store.FlaggedTransactions()

	tasks := make([]RemediationTask, 0, len(flagged))
	for i := range flagged {
		if len(tasks) >= maxListResults {
			break
		}
		st := &flagged[i]
		tasks = append(tasks, RemediationTask{
			TransactionID: st.Transaction.ID,
			RiskCategory:  st.Detection.RiskCategory,
			Actions:       remediationActions(st),
			CustomerID:    st.Transaction.CustomerID,
			Regulator:     st.Transaction.Regulator.String(),
		})
	}

	writeJSON(w, http.StatusOK, tasks)
}

func remediationActions(st *domain.ScoredTransaction) []string {
	reasons := strings.Join(st.Detection.Reasons, "; ")
	lower := strings.ToLower(reasons)

	var actions []string
	if strings.Contains(reasons, "EDD") || st.Transaction.EDDRequired.IsTrue() {
		actions = append(actions, "Perform Enhanced Due Diligence (EDD)")
	}
	if strings.Contains(lower, "sanctions") {
		actions = append(actions, "Run sanctions screening and clear false positives")
	}
	if strings.Contains(reasons, "SOW") || st.Transaction.SOWDocumented.IsFalse() {
		actions = append(actions, "Obtain Source of Wealth documentation")
	}
	if strings.Contains(lower, "high amount") {
		actions = append(actions, "Validate unusual amount with client and justification")
	}
	if len(actions) == 0 {
		actions = []string{"Review case details and document outcome"}
	}
	return actions
}

// ExportFraudCSV handles GET /api/export/fraud.csv. The export defaults
// to unresolved alerts; resolved=true exports the resolved set instead.
func (h *Handler) ExportFraudCSV(w http.ResponseWriter, r *http.Request) {
	wantResolved := false
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			wantResolved = parsed
		}
	}

	filter := domain.AlertFilter{Resolved: &wantResolved}
	records := h.store.Query(r.Context(), filter)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=fraud_transactions.csv`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	header := []string{
		"transaction_id", "customer_id", "amount", "currency",
		"regulator", "booking_jurisdiction", "customer_risk_rating",
		"risk_category", "suspicious_detection_count", "reasons",
		"booking_datetime", "resolved",
	}
	if err := cw.Write(header); err != nil {
		slog.Error("failed to write export header", "error", err)
		return
	}
	for _, rec := range records {
		row := []string{
			rec.TransactionID,
			rec.CustomerID,
			rec.Amount,
			rec.Currency,
			rec.Regulator,
			rec.BookingJurisdiction,
			rec.CustomerRiskRating,
			rec.RiskCategory.String(),
			strconv.Itoa(rec.SuspiciousDetectionCount),
			strings.Join(rec.Reasons, "; "),
			rec.BookingDatetime,
			strconv.FormatBool(rec.Resolved),
		}
		if err := cw.Write(row); err != nil {
			slog.Error("failed to write export row", "transaction_id", rec.TransactionID, "error", err)
			return
		}
	}
	cw.Flush()
}

// ListReports handles GET /api/reports/monthly.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	infos, err := h.generator.List()
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reports",
		})
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// GenerateReport handles POST /api/reports/generate. The month defaults
// to the current UTC month; force=true regenerates an existing pair.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	month := q.Get("month")
	if month == "" {
		month = reports.MonthKey(time.Now().UTC())
	}
	if !reports.ValidMonth(month) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "month must be formatted as YYYY-MM",
		})
		return
	}

	force := false
	if raw := q.Get("force"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			force = parsed
		}
	}

	result, err := h.generator.Generate(r.Context(), month, force)
	if err != nil {
		slog.Error("failed to generate report", "month", month, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to generate monthly report",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DownloadReport handles GET /api/reports/download.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month := q.Get("month")
	format := q.Get("format")

	if !reports.ValidMonth(month) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "month must be formatted as YYYY-MM",
		})
		return
	}
	if format != "csv" && format != "json" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "format must be csv or json",
		})
		return
	}

	f, err := h.generator.Open(month, format)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "report not found for month " + month,
			})
			return
		}
		slog.Error("failed to open report", "month", month, "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to open report",
		})
		return
	}
	defer f.Close()

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", `attachment; filename=report_`+month+`.`+format)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		slog.Error("failed to stream report", "month", month, "format", format, "error", err)
	}
}

// ModelInfo handles GET /api/model.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	report, err := h.classifier.ActiveReport()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "model not trained",
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TrainModel handles POST /api/model/train: fits a new advisory model
// on the scored batch and swaps it live.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	report, err := h.classifier.Train(r.Context(), h.scored)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "training failed: " + err.Error(),
		})
		return
	}

	slog.Info("model trained",
		"version", report.Version,
		"samples", report.Samples,
		"test_accuracy", report.TestAccuracy,
	)
	writeJSON(w, http.StatusOK, report)
}

// PredictRequest is the request body for POST /api/model/predict. An
// empty transaction_ids list predicts over the flagged set.
type PredictRequest struct {
	TransactionIDs []string `json:"transaction_ids,omitempty"`
}

// Predict handles POST /api/model/predict. Predictions are advisory
// and never change the rule verdict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	if !h.classifier.Ready() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "model not trained",
		})
		return
	}

	var targets []*domain.Transaction
	if len(req.TransactionIDs) > 0 {
		for _, id := range req.TransactionIDs {
			tx, ok := h.txIndex[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "transaction " + id + " not found in batch",
				})
				return
			}
			targets = append(targets, tx)
		}
	} else {
		flagged := h.store.FlaggedTransactions()
		for i := range flagged {
			targets = append(targets, &flagged[i].Transaction)
		}
	}

	predictions := make([]ml.Prediction, 0, len(targets))
	for _, tx := range targets {
		pred, err := h.classifier.Predict(tx)
		if err != nil {
			slog.Error("prediction failed", "transaction_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "prediction failed",
			})
			return
		}
		predictions = append(predictions, pred)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// ListScreeningRules handles GET /api/screening/rules.
func (h *Handler) ListScreeningRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.screening.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateScreeningRuleRequest is the request body for creating a
// screening rule.
type CreateScreeningRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// CreateScreeningRule handles POST /api/screening/rules. The CEL
// expression is validated by loading it into the engine before the
// rule is persisted.
func (h *Handler) CreateScreeningRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateScreeningRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	rule := domain.ScreeningRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Loading doubles as CEL validation. Disabled rules are validated
	// but not activated.
	if req.Enabled {
		if err := h.screening.LoadRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	} else if err := h.screening.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveScreeningRule(ctx, &rule); err != nil {
			slog.Error("failed to save screening rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if req.Enabled {
		h.store.RefreshScreening(h.screening)
	}

	slog.Info("screening rule created", "id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteScreeningRule handles DELETE /api/screening/rules/{id}.
func (h *Handler) DeleteScreeningRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteScreeningRule(ctx, ruleID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "rule not found",
				})
				return
			}
			slog.Error("failed to delete screening rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to delete rule",
			})
			return
		}
	}

	h.screening.RemoveRule(ruleID)
	h.store.RefreshScreening(h.screening)

	slog.Info("screening rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     ruleID,
	})
}

// ReloadScreeningRules handles POST /api/screening/rules/reload: the
// persisted rule set replaces the engine's working set without a
// restart.
func (h *Handler) ReloadScreeningRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	persisted, err := h.repo.ListScreeningRules(ctx)
	if err != nil {
		slog.Error("failed to list screening rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	enabled := make([]domain.ScreeningRule, 0, len(persisted))
	for _, rule := range persisted {
		if rule.Enabled {
			enabled = append(enabled, *rule)
		}
	}

	if err := h.screening.ReloadRules(enabled); err != nil {
		slog.Error("failed to reload screening rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	h.store.RefreshScreening(h.screening)

	slog.Info("screening rules reloaded", "count", len(enabled))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(enabled),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
