package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services/trust"
	"github.com/modelware/agentgate/utils"
)

// AssignTrustRequest represents a request to assign a trust level.
type AssignTrustRequest struct {
	AgentID    string     `json:"agent_id" validate:"required"`
	Scope      string     `json:"scope,omitempty"`
	Level      int        `json:"level" validate:"gte=0,lte=5"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// CheckTrustRequest represents a request to check an agent against a
// required trust level.
type CheckTrustRequest struct {
	AgentID       string `json:"agent_id" validate:"required"`
	RequiredLevel int    `json:"required_level" validate:"gte=0,lte=5"`
	Scope         string `json:"scope,omitempty"`
}

// EffectiveLevelResponse reports an agent's decay-adjusted trust level.
type EffectiveLevelResponse struct {
	AgentID string `json:"agent_id"`
	Scope   string `json:"scope"`
	Level   int    `json:"level"`
	Name    string `json:"name"`
}

// RevokedResponse reports how many records a revocation touched.
type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

// TrustHandler handles trust assignment HTTP requests.
type TrustHandler struct {
	service *trust.Service
	logger  *zap.Logger
}

// NewTrustHandler creates a new TrustHandler.
func NewTrustHandler(service *trust.Service, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{
		service: service,
		logger:  logger,
	}
}

// HandleAssign handles POST /v1/trust/assignments.
func (h *TrustHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssignTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var opts []trust.AssignOption
	if req.Reason != "" {
		opts = append(opts, trust.WithReason(req.Reason))
	}
	if req.ExpiresAt != nil {
		opts = append(opts, trust.WithExpiry(*req.ExpiresAt))
	}

	assignment, err := h.service.Assign(ctx, req.AgentID, req.Scope, models.TrustLevel(req.Level), req.AssignedBy, opts...)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("trust level assigned",
		zap.String("agent_id", assignment.AgentID),
		zap.String("scope", assignment.Scope),
		zap.Int("level", int(assignment.Level)))

	_ = utils.WriteCreated(w, assignment)
}

// HandleList handles GET /v1/trust/assignments.
func (h *TrustHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	assignments := h.service.ListAssignments(r.Context())
	_ = utils.WriteOK(w, assignments)
}

// HandleCheck handles POST /v1/trust/check.
func (h *TrustHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result := h.service.Check(ctx, req.AgentID, models.TrustLevel(req.RequiredLevel), req.Scope)
	_ = utils.WriteOK(w, result)
}

// HandleGetLevel handles GET /v1/trust/agents/{agentID}/level.
func (h *TrustHandler) HandleGetLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := chi.URLParam(r, "agentID")
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = trust.DefaultScope
	}

	level := h.service.GetEffectiveLevel(ctx, agentID, scope, time.Now())
	_ = utils.WriteOK(w, EffectiveLevelResponse{
		AgentID: agentID,
		Scope:   scope,
		Level:   int(level),
		Name:    level.String(),
	})
}

// HandleHistory handles GET /v1/trust/agents/{agentID}/history.
func (h *TrustHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := chi.URLParam(r, "agentID")
	scope := r.URL.Query().Get("scope")

	history := h.service.History(ctx, agentID, scope)
	_ = utils.WriteOK(w, history)
}

// HandleRevoke handles DELETE /v1/trust/agents/{agentID}. Without a scope
// query parameter every scope for the agent is revoked.
func (h *TrustHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := chi.URLParam(r, "agentID")
	scope := r.URL.Query().Get("scope")
	revokedBy := r.URL.Query().Get("revoked_by")

	count, err := h.service.Revoke(ctx, agentID, revokedBy, scope)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("trust revoked",
		zap.String("agent_id", agentID),
		zap.String("scope", scope),
		zap.Int("count", count))

	_ = utils.WriteOK(w, RevokedResponse{Revoked: count})
}
