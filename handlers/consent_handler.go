package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/services/consent"
	"github.com/modelware/agentgate/utils"
)

// GrantConsentRequest represents a request to record a consent grant.
type GrantConsentRequest struct {
	AgentID   string     `json:"agent_id" validate:"required"`
	DataType  string     `json:"data_type" validate:"required"`
	Purpose   string     `json:"purpose,omitempty"`
	GrantedBy string     `json:"granted_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CheckConsentRequest represents a consent lookup for one
// agent, data type, and purpose triple.
type CheckConsentRequest struct {
	AgentID  string `json:"agent_id" validate:"required"`
	DataType string `json:"data_type" validate:"required"`
	Purpose  string `json:"purpose,omitempty"`
}

// RevokeConsentRequest represents a revocation. An empty purpose revokes
// all purposes for the data type.
type RevokeConsentRequest struct {
	AgentID  string `json:"agent_id" validate:"required"`
	DataType string `json:"data_type" validate:"required"`
	Purpose  string `json:"purpose,omitempty"`
}

// ConsentHandler handles consent HTTP requests.
type ConsentHandler struct {
	service *consent.Service
	logger  *zap.Logger
}

// NewConsentHandler creates a new ConsentHandler.
func NewConsentHandler(service *consent.Service, logger *zap.Logger) *ConsentHandler {
	return &ConsentHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGrant handles POST /v1/consent/grants.
func (h *ConsentHandler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GrantConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var opts []consent.GrantOption
	if req.ExpiresAt != nil {
		opts = append(opts, consent.WithExpiry(*req.ExpiresAt))
	}

	record, err := h.service.Record(ctx, req.AgentID, req.DataType, req.Purpose, req.GrantedBy, opts...)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("consent granted",
		zap.String("agent_id", record.AgentID),
		zap.String("data_type", record.DataType),
		zap.String("purpose", record.Purpose))

	_ = utils.WriteCreated(w, record)
}

// HandleCheck handles POST /v1/consent/check.
func (h *ConsentHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result := h.service.Check(ctx, req.AgentID, req.DataType, req.Purpose)
	_ = utils.WriteOK(w, result)
}

// HandleRevoke handles POST /v1/consent/revoke.
func (h *ConsentHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RevokeConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	count, err := h.service.Revoke(ctx, req.AgentID, req.DataType, req.Purpose)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("consent revoked",
		zap.String("agent_id", req.AgentID),
		zap.String("data_type", req.DataType),
		zap.Int("count", count))

	_ = utils.WriteOK(w, RevokedResponse{Revoked: count})
}

// HandleList handles GET /v1/consent/grants.
func (h *ConsentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	records := h.service.List(r.Context(), agentID)
	_ = utils.WriteOK(w, records)
}
