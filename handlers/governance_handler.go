package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services/governance"
	"github.com/modelware/agentgate/utils"
)

// GovernanceHandler handles action evaluation requests.
type GovernanceHandler struct {
	engine *governance.Engine
	logger *zap.Logger
}

// NewGovernanceHandler creates a new GovernanceHandler.
func NewGovernanceHandler(engine *governance.Engine, logger *zap.Logger) *GovernanceHandler {
	return &GovernanceHandler{
		engine: engine,
		logger: logger,
	}
}

// HandleEvaluate handles POST /v1/evaluate. A permitted action answers 200,
// a denial 403; both carry the full decision so callers see which gate
// fired and why.
func (h *GovernanceHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	decision, err := h.engine.Evaluate(ctx, req)
	if err != nil {
		if decision == nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		// The decision was reached but its audit record was not persisted.
		// Fail closed: an unauditable decision is not served.
		h.logger.Error("audit append failed for evaluated action",
			zap.String("agent_id", req.AgentID),
			zap.String("action", req.Action),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Audit trail unavailable")
		return
	}

	h.logger.Info("action evaluated",
		zap.String("agent_id", decision.AgentID),
		zap.String("action", decision.Action),
		zap.Bool("permitted", decision.Permitted),
		zap.String("gate", string(decision.Gate)))

	if !decision.Permitted {
		_ = utils.WriteJSON(w, http.StatusForbidden, utils.SuccessResponse{Data: decision})
		return
	}
	_ = utils.WriteOK(w, decision)
}
