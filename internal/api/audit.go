package api

import (
	"context"
	"net/http"

	"github.com/nerrad567/labdash/internal/audit"
)

// recordAudit stores e when an audit repository is configured. Failures are
// logged and never fail the request.
func (s *Server) recordAudit(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Create(ctx, &e); err != nil {
		s.logger.Warn("recording audit entry failed", "action", e.Action, "error", err)
	}
}

// requestSubject returns the token subject set by authMiddleware, or "" when
// auth is disabled.
func requestSubject(r *http.Request) string {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // Empty when auth is disabled
	return subject
}

// handleListAudit returns one page of audit entries, newest first.
//
// Query parameters:
//   - action, entityType, entityId, subject: exact-match filters
//   - page, size: as for /devices
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	entries, err := s.audit.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		Subject:    q.Get("subject"),
		Page:       page,
		Size:       size,
	})
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(entries, identity[audit.Entry]))
}
