package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rl337/authface/models"
	"github.com/rl337/authface/services"
	"github.com/rl337/authface/utils"
	"go.uber.org/zap"
)

const defaultAuditLimit = 50

// AuditReader lists persisted audit entries
type AuditReader interface {
	GetBySubject(ctx context.Context, provider, subject string, limit, offset int) ([]*models.AuditLog, error)
	GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error)
}

// AuditQuery selects entries either by principal (provider and sub) or by action
type AuditQuery struct {
	Provider string `json:"provider" validate:"required_with=Subject"`
	Subject  string `json:"sub" validate:"required_with=Provider"`
	Action   string `json:"action" validate:"omitempty,excluded_with=Subject,oneof=login_succeeded login_failed token_refreshed session_revoked sessions_evicted"`
	Limit    int    `json:"limit" validate:"min=1,max=200"`
	Offset   int    `json:"offset" validate:"min=0"`
}

// AuditLogsResponse is returned by GET /api/v1/admin/audit
type AuditLogsResponse struct {
	Entries []*models.AuditLog `json:"entries"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// AuditHandler serves the audit trail to administrators
type AuditHandler struct {
	logs   AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(logs AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		logs:   logs,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/admin/audit?provider=&sub= or ?action=
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query, err := parseAuditQuery(r)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(query); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var entries []*models.AuditLog
	switch {
	case query.Subject != "":
		if err := utils.ValidateProviderID(query.Provider); err != nil {
			HandleServiceError(w, services.ErrInvalidInput.Wrap(err).WithDetail("provider", query.Provider), h.logger)
			return
		}
		entries, err = h.logs.GetBySubject(r.Context(), query.Provider, query.Subject, query.Limit, query.Offset)
	case query.Action != "":
		entries, err = h.logs.GetByAction(r.Context(), models.AuditAction(query.Action), query.Limit, query.Offset)
	default:
		HandleServiceError(w, services.ErrMissingParameter.Wrap(nil).
			WithDetail("parameter", "provider and sub, or action"), h.logger)
		return
	}
	if err != nil {
		HandleServiceError(w, services.ErrInternal.Wrap(err), h.logger)
		return
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}

	_ = utils.WriteJSON(w, http.StatusOK, AuditLogsResponse{
		Entries: entries,
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
}

func parseAuditQuery(r *http.Request) (*AuditQuery, error) {
	values := r.URL.Query()
	query := &AuditQuery{
		Provider: values.Get("provider"),
		Subject:  values.Get("sub"),
		Action:   values.Get("action"),
		Limit:    defaultAuditLimit,
	}

	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, services.ErrInvalidInput.Wrap(err).WithDetail(name, "must be an integer")
		}
		*dst = n
	}
	return query, nil
}
