package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/ledgerguard/internal/models"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
)

// AuditTrailService reads stored audit rows
type AuditTrailService interface {
	GetUserAuditTrail(ctx context.Context, userID uuid.UUID, eventType string, limit int, offset int) ([]*models.AuditLog, error)
	GetCountForUser(ctx context.Context, userID uuid.UUID, eventType string) (int64, error)
}

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	auditService AuditTrailService
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditService AuditTrailService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// AuditLogResponse represents an audit log entry in HTTP response
type AuditLogResponse struct {
	ID            string                 `json:"id"`
	EventType     string                 `json:"event_type"`
	ActorID       *string                `json:"actor_id,omitempty"`
	TargetID      *string                `json:"target_id,omitempty"`
	ResourceType  *string                `json:"resource_type,omitempty"`
	ResourceID    *string                `json:"resource_id,omitempty"`
	Action        string                 `json:"action"`
	Success       bool                   `json:"success"`
	FailureReason *string                `json:"failure_reason,omitempty"`
	IPAddress     *string                `json:"ip_address,omitempty"`
	UserAgent     *string                `json:"user_agent,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     string                 `json:"created_at"`
}

// AuditTrailResponse is one page of a user's audit trail
type AuditTrailResponse struct {
	Logs   []*AuditLogResponse `json:"logs"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// GetUserAuditTrail retrieves the audit trail for a specific user (admin only)
// @Summary User audit trail
// @Param id path string true "User ID"
// @Param event_type query string false "Filter by event type"
// @Param limit query int false "Limit (default 50, max 100)"
// @Param offset query int false "Offset"
// @Produce json
// @Success 200 {object} AuditTrailResponse
// @Router /admin/users/{id}/audit-logs [get]
func (h *AuditHandler) GetUserAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	targetUserID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return
	}

	limit, offset := pagination(r, 50)
	eventType := r.URL.Query().Get("event_type")

	logs, err := h.auditService.GetUserAuditTrail(ctx, targetUserID, eventType, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	count, err := h.auditService.GetCountForUser(ctx, targetUserID, eventType)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := AuditTrailResponse{
		Logs:   make([]*AuditLogResponse, len(logs)),
		Total:  count,
		Limit:  limit,
		Offset: offset,
	}
	for i, log := range logs {
		resp.Logs[i] = auditLogToResponse(log)
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(count, 10))
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// auditLogToResponse converts an audit log model to a response DTO
func auditLogToResponse(log *models.AuditLog) *AuditLogResponse {
	resp := &AuditLogResponse{
		ID:            log.ID.String(),
		EventType:     log.EventType,
		ResourceType:  log.ResourceType,
		ResourceID:    log.ResourceID,
		Action:        log.Action,
		Success:       log.Success,
		FailureReason: log.FailureReason,
		IPAddress:     log.IPAddress,
		UserAgent:     log.UserAgent,
		Metadata:      log.Metadata,
		CreatedAt:     log.CreatedAt.Format(time.RFC3339),
	}

	if log.ActorID != nil {
		actor := log.ActorID.String()
		resp.ActorID = &actor
	}
	if log.TargetID != nil {
		target := log.TargetID.String()
		resp.TargetID = &target
	}

	return resp
}
