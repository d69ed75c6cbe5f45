package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

type runResponse struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	Coalesced bool           `json:"coalesced,omitempty"`
	Message   string         `json:"message,omitempty"`
	Summary   *relay.Summary `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// submitRun handles POST /v1/runs. It answers 202 with the queued run ID, or
// with the already pending run's ID when the request coalesced. A queued run
// that reaches the worker while a synchronous run is active waits for it.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	runID, coalesced, err := s.submitter.Submit(r.Context(), "api")
	if err != nil {
		s.logger.Error("submit run failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse{
		RunID:     runID,
		Status:    string(relay.RunStatusQueued),
		Coalesced: coalesced,
	})
}

// runSync handles POST /v1/runs/sync. The run is detached from the caller's
// connection and bounded by server.sync_timeout.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	if s.runner.Running() {
		writeError(w, http.StatusConflict, relay.ErrRunInProgress.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Server.SyncTimeout)
	defer cancel()

	req, err := s.submitter.Record(ctx, "api-sync")
	if err != nil {
		s.logger.Error("record run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.runner.Process(ctx, req)
	if err != nil {
		resp := runResponse{RunID: req.RunID, Status: string(relay.RunStatusFailed), Error: err.Error()}
		if !errors.Is(err, relay.ErrRunInProgress) {
			resp.Summary = &summary
		}
		writeJSON(w, statusForRunError(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:   req.RunID,
		Status:  string(relay.RunStatusSucceeded),
		Message: summary.String(),
		Summary: &summary,
	})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, relay.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func statusForRunError(err error) int {
	var fetchErr *relay.FetchError
	var persistErr *relay.PersistError
	switch {
	case errors.Is(err, relay.ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
