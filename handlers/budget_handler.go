package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services/budget"
	"github.com/modelware/agentgate/utils"
)

// CreateEnvelopeRequest represents a request to create a spending envelope.
type CreateEnvelopeRequest struct {
	Category string  `json:"category" validate:"required"`
	Limit    float64 `json:"limit" validate:"required,gt=0"`
	Period   string  `json:"period" validate:"required,oneof=hourly daily weekly monthly lifetime"`
}

// BudgetAmountRequest represents a check, spend, or commit against a
// category.
type BudgetAmountRequest struct {
	Category    string  `json:"category" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Description string  `json:"description,omitempty"`
}

// ReleaseCommitRequest settles a pending commit.
type ReleaseCommitRequest struct {
	Spent       bool   `json:"spent"`
	Description string `json:"description,omitempty"`
}

// BudgetHandler handles budget HTTP requests.
type BudgetHandler struct {
	service *budget.Service
	logger  *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler.
func NewBudgetHandler(service *budget.Service, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCreateEnvelope handles POST /v1/budget/envelopes.
func (h *BudgetHandler) HandleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	envelope, err := h.service.CreateEnvelope(ctx, req.Category, req.Limit, models.BudgetPeriod(req.Period))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteCreated(w, envelope)
}

// HandleListEnvelopes handles GET /v1/budget/envelopes.
func (h *BudgetHandler) HandleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envelopes := h.service.ListEnvelopes(r.Context())
	_ = utils.WriteOK(w, envelopes)
}

// HandleGetEnvelope handles GET /v1/budget/envelopes/{category}.
func (h *BudgetHandler) HandleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	envelope, err := h.service.GetEnvelope(r.Context(), category)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, envelope)
}

// HandleCheck handles POST /v1/budget/check. The check reserves nothing;
// a shortfall is expressed through the result body, not the status code.
func (h *BudgetHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BudgetAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result := h.service.Check(ctx, req.Category, req.Amount)
	_ = utils.WriteOK(w, result)
}

// HandleSpend handles POST /v1/budget/spend.
func (h *BudgetHandler) HandleSpend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BudgetAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	tx, err := h.service.Record(ctx, req.Category, req.Amount, req.Description)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("spend recorded",
		zap.String("category", req.Category),
		zap.Float64("amount", req.Amount))

	_ = utils.WriteCreated(w, tx)
}

// HandleCommit handles POST /v1/budget/commits.
func (h *BudgetHandler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BudgetAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Commit(ctx, req.Category, req.Amount)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleRelease handles POST /v1/budget/commits/{commitID}/release.
func (h *BudgetHandler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	commitID := chi.URLParam(r, "commitID")

	var req ReleaseCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := h.service.Release(ctx, commitID, req.Spent, req.Description); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("commit released",
		zap.String("commit_id", commitID),
		zap.Bool("spent", req.Spent))

	_ = utils.WriteOK(w, nil)
}

// HandleSuspend handles POST /v1/budget/envelopes/{category}/suspend.
func (h *BudgetHandler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// HandleResume handles POST /v1/budget/envelopes/{category}/resume.
func (h *BudgetHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *BudgetHandler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	ctx := r.Context()
	category := chi.URLParam(r, "category")

	var err error
	if suspended {
		err = h.service.Suspend(ctx, category)
	} else {
		err = h.service.Resume(ctx, category)
	}
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("envelope suspension changed",
		zap.String("category", category),
		zap.Bool("suspended", suspended))

	_ = utils.WriteOK(w, nil)
}

// HandleUtilization handles GET /v1/budget/utilization.
func (h *BudgetHandler) HandleUtilization(w http.ResponseWriter, r *http.Request) {
	utilization := h.service.Utilization(r.Context())
	_ = utils.WriteOK(w, utilization)
}

// HandleTransactions handles GET /v1/budget/transactions.
func (h *BudgetHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	filter := models.TransactionFilter{
		Category: r.URL.Query().Get("category"),
	}

	var err error
	if filter.Since, err = parseTimeParam(r, "since"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid since format, expected RFC 3339", nil)
		return
	}
	if filter.Until, err = parseTimeParam(r, "until"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid until format, expected RFC 3339", nil)
		return
	}
	if filter.MinAmount, err = parseFloatParam(r, "min_amount"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid min_amount", nil)
		return
	}
	if filter.MaxAmount, err = parseFloatParam(r, "max_amount"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid max_amount", nil)
		return
	}

	transactions := h.service.Transactions(r.Context(), filter)
	_ = utils.WriteOK(w, transactions)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseFloatParam(r *http.Request, name string) (*float64, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
