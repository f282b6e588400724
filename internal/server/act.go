// internal/server/act.go
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/models"
)

type actRequest struct {
	RequestID        string `json:"request_id"`
	TenantID         string `json:"tenant_id"`
	UserID           string `json:"user_id"`
	SelectedEntityID string `json:"selected_entity_id,omitempty"`
	Confirmed        bool   `json:"confirmed,omitempty"`
}

type actResponse struct {
	RequestID string            `json:"request_id"`
	Result    *models.ActResult `json:"result"`
}

// handleAct executes a previously interpreted request. The target must be
// one of the candidates recorded at interpret time; client-invented ids
// never reach the platform.
func (s *Server) handleAct(w http.ResponseWriter, r *http.Request, requestID string) {
	started := time.Now()

	var req actRequest
	if err := decodeBody(r, &req); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}
	// Same ordering as /interpret: spend a token before validating fields.
	ctx := r.Context()
	if err := s.checkLimit(ctx, req.UserID, "act"); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	if req.RequestID == "" || req.TenantID == "" || req.UserID == "" {
		s.errs.HandleHTTPError(w, requestID,
			errors.NewRequestInvalidError("request_id, tenant_id and user_id are required"))
		return
	}

	entry, err := s.history.GetInterpret(ctx, req.TenantID, req.RequestID)
	if err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}
	if entry.Intent == nil {
		s.errs.HandleHTTPError(w, requestID,
			errors.NewValidationError("recorded request has no parsed intent"))
		return
	}

	target, err := chooseTarget(entry, req.SelectedEntityID)
	if err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	// Rebuild against current platform state; the draft recorded at
	// interpret time may be stale by the time the user confirms.
	draft, err := s.builder.Build(ctx, req.TenantID, entry.Intent, target)
	if err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	if (draft.RequiresConfirmation || entry.State != models.StateResolved) && !req.Confirmed {
		s.errs.HandleHTTPError(w, requestID, errors.NewValidationError(
			fmt.Sprintf("action %q requires explicit confirmation", draft.ActionType)))
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	result, err := s.executor.Execute(ctx, req.TenantID, req.UserID, draft, idempotencyKey)
	if err != nil {
		metrics.ActRequests.With(prometheus.Labels{"outcome": "error"}).Inc()
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	metrics.ActRequests.With(prometheus.Labels{"outcome": outcomeLabel(result)}).Inc()
	metrics.ActDuration.With(prometheus.Labels{"action_type": string(draft.ActionType)}).
		Observe(time.Since(started).Seconds())
	s.obs.RecordRequestProcessed(ctx, "act", outcomeLabel(result))

	s.logger.Info("Executed action", map[string]interface{}{
		"request_id":  req.RequestID,
		"tenant_id":   req.TenantID,
		"action_type": string(draft.ActionType),
		"outcome":     outcomeLabel(result),
	})

	writeJSON(w, http.StatusOK, actResponse{RequestID: req.RequestID, Result: result})
}

// chooseTarget picks the execution target from the recorded candidates. An
// explicit selection must match a recorded candidate id exactly.
func chooseTarget(entry *models.AuditEntry, selectedID string) (models.EntityCandidate, error) {
	if selectedID == "" {
		selectedID = entry.SelectedEntityID
	}
	if selectedID == "" {
		if entry.ActionType == models.IntentCreateTask {
			return models.EntityCandidate{}, nil
		}
		return models.EntityCandidate{}, errors.NewValidationError("no entity selected for this action")
	}
	for _, candidate := range entry.Candidates {
		if candidate.ID == selectedID {
			return candidate, nil
		}
	}
	return models.EntityCandidate{}, errors.NewValidationError(
		fmt.Sprintf("entity %q was not among the interpreted candidates", selectedID))
}

func outcomeLabel(result *models.ActResult) string {
	switch {
	case result.Replayed:
		return "replayed"
	case result.Success:
		return "success"
	case result.PartialSuccess:
		return "partial"
	default:
		return "failed"
	}
}

type cancelRequest struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}

// handleCancel records that the user walked away from a pending draft.
// Nothing executed yet, so there is nothing to undo; the audit trail just
// closes the loop.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, requestID string) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}
	if req.RequestID == "" || req.TenantID == "" || req.UserID == "" {
		s.errs.HandleHTTPError(w, requestID,
			errors.NewRequestInvalidError("request_id, tenant_id and user_id are required"))
		return
	}

	ctx := r.Context()
	entry, err := s.history.GetInterpret(ctx, req.TenantID, req.RequestID)
	if err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	cancelEntry := models.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		Kind:       models.AuditCancel,
		ActionType: entry.ActionType,
		Reason:     req.Reason,
		CreatedAt:  nowUTC(),
	}
	if err := s.appendAudit(ctx, cancelEntry); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	s.logger.Info("Cancelled pending request", map[string]interface{}{
		"request_id": req.RequestID,
		"tenant_id":  req.TenantID,
	})

	w.WriteHeader(http.StatusNoContent)
}
