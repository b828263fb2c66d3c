package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/modelware/agentgate/models"
	"github.com/modelware/agentgate/services/audit"
	"github.com/modelware/agentgate/utils"
)

// ChainStatsResponse summarizes the audit chain without walking it.
type ChainStatsResponse struct {
	RecordCount int    `json:"record_count"`
	LastHash    string `json:"last_hash"`
}

// AuditHandler handles audit chain HTTP requests.
type AuditHandler struct {
	service *audit.Service
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(service *audit.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		service: service,
		logger:  logger,
	}
}

// HandleQuery handles GET /v1/audit/records.
func (h *AuditHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	records, err := h.service.Query(ctx, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, records)
}

// HandleVerify handles GET /v1/audit/verify. Verification walks the whole
// chain; a detected break is still a 200 with Valid=false in the body.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	verification, err := h.service.Verify(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !verification.Valid {
		h.logger.Warn("audit chain verification failed",
			zap.Intp("broken_at", verification.BrokenAt),
			zap.String("kind", string(verification.BreakKind)))
	}

	_ = utils.WriteOK(w, verification)
}

// HandleStats handles GET /v1/audit/stats.
func (h *AuditHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.Count(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ChainStatsResponse{
		RecordCount: count,
		LastHash:    h.service.LastHash(),
	})
}

// HandleExport handles GET /v1/audit/export?format=json|csv|cef. The body
// is the raw export document, not the JSON envelope the other endpoints
// use.
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.FormatJSON
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	records, err := h.service.Query(ctx, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	document, err := audit.Export(records, format)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("audit chain exported",
		zap.String("format", string(format)),
		zap.Int("records", len(records)))

	w.Header().Set("Content-Type", exportContentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(document))
}

func (h *AuditHandler) parseFilter(w http.ResponseWriter, r *http.Request) (models.AuditFilter, bool) {
	query := r.URL.Query()
	filter := models.AuditFilter{
		AgentID: query.Get("agent_id"),
		Action:  query.Get("action"),
	}

	var err error
	if filter.Since, err = parseTimeParam(r, "since"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid since format, expected RFC 3339", nil)
		return filter, false
	}
	if filter.Until, err = parseTimeParam(r, "until"); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid until format, expected RFC 3339", nil)
		return filter, false
	}

	if value := query.Get("permitted"); value != "" {
		permitted, err := strconv.ParseBool(value)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid permitted value", nil)
			return filter, false
		}
		if permitted {
			filter.PermittedOnly = true
		} else {
			filter.DeniedOnly = true
		}
	}

	if value := query.Get("limit"); value != "" {
		if filter.Limit, err = strconv.Atoi(value); err != nil || filter.Limit < 0 {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return filter, false
		}
	}
	if value := query.Get("offset"); value != "" {
		if filter.Offset, err = strconv.Atoi(value); err != nil || filter.Offset < 0 {
			_ = utils.WriteBadRequest(w, "Invalid offset", nil)
			return filter, false
		}
	}

	return filter, true
}

func exportContentType(format audit.ExportFormat) string {
	switch format {
	case audit.FormatCSV:
		return "text/csv; charset=utf-8"
	case audit.FormatCEF:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}
