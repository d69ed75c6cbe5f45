package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const cursorTimeout = 3 * time.Second

type cursorResponse struct {
	Source    string     `json:"source"`
	Present   bool       `json:"present"`
	LastID    int64      `json:"last_id"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// getCursor handles GET /v1/cursor. An absent cursor is reported with
// present=false.
func (s *Server) getCursor(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), cursorTimeout)
	defer cancel()

	source := s.cfg.Source.Name
	cur, ok, err := s.cursors.Load(ctx, source)
	if err != nil {
		s.logger.Error("load cursor failed", zap.String("source", source), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load cursor")
		return
	}
	resp := cursorResponse{Source: source, Present: ok}
	if ok {
		resp.LastID = cur.LastID
		if !cur.UpdatedAt.IsZero() {
			updated := cur.UpdatedAt
			resp.UpdatedAt = &updated
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
