// internal/server/interpret.go
package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/models"
)

type interpretRequest struct {
	Text     string `json:"text"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

type interpretResponse struct {
	RequestID    string                   `json:"request_id"`
	ParsedIntent *models.ParsedIntent     `json:"parsed_intent"`
	State        models.DecisionState     `json:"state"`
	Risk         models.RiskLevel         `json:"risk"`
	Selected     *models.EntityCandidate  `json:"selected,omitempty"`
	Alternatives []models.EntityCandidate `json:"alternatives,omitempty"`
	Candidates   []models.EntityCandidate `json:"candidates,omitempty"`
	Draft        *models.ActionDraft      `json:"draft,omitempty"`
}

// handleInterpret runs the read-only half of the pipeline: parse, retrieve,
// disambiguate, draft. Nothing here mutates the platform; the draft waits
// for /act.
func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request, requestID string) {
	started := time.Now()

	var req interpretRequest
	if err := decodeBody(r, &req); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}
	// Rate limit before field validation: the bucket check is cheap and a
	// malformed request still spends a token.
	ctx := r.Context()
	if err := s.checkLimit(ctx, req.UserID, "interpret"); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	if req.Text == "" || req.TenantID == "" || req.UserID == "" {
		s.errs.HandleHTTPError(w, requestID,
			errors.NewRequestInvalidError("text, tenant_id and user_id are required"))
		return
	}

	utterance := models.Utterance{
		Text:      req.Text,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Timestamp: nowUTC(),
	}
	intent, err := s.parser.Parse(ctx, utterance)
	if err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	risk := s.catalog.RiskOf(intent.Type)

	// A bare create has no entity to retrieve; everything else goes through
	// the two-leg search.
	var candidates []models.EntityCandidate
	bareCreate := intent.Type == models.IntentCreateTask && intent.Slot(models.SlotEntity) == ""
	if !bareCreate {
		candidates, err = s.resolver.Resolve(ctx, req.TenantID, intent)
		if err != nil {
			s.errs.HandleHTTPError(w, requestID, err)
			return
		}
	}

	decision := s.policy.Decide(candidates, risk, intent.Origin)
	if bareCreate {
		// Creation without a parent needs nothing resolved, but still gets
		// an explicit user go-ahead before it runs.
		decision.State = models.StateNeedsConfirmation
	}

	resp := interpretResponse{
		RequestID:    requestID,
		ParsedIntent: intent,
		State:        decision.State,
		Risk:         risk,
		Selected:     decision.Selected,
		Alternatives: decision.Alternatives,
		Candidates:   candidates,
	}

	var draft *models.ActionDraft
	if decision.Selected != nil || bareCreate {
		var target models.EntityCandidate
		if decision.Selected != nil {
			target = *decision.Selected
		}
		draft, err = s.builder.Build(ctx, req.TenantID, intent, target)
		if err != nil {
			s.errs.HandleHTTPError(w, requestID, err)
			return
		}
		if decision.State != models.StateResolved {
			draft.RequiresConfirmation = true
		}
		resp.Draft = draft
	}

	entry := models.AuditEntry{
		ID:            requestID,
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		Kind:          models.AuditInterpret,
		UtteranceHash: models.HashUtterance(req.Text),
		Origin:        intent.Origin,
		Intent:        intent,
		Candidates:    candidates,
		State:         decision.State,
		ActionType:    intent.Type,
		Risk:          risk,
		Draft:         draft,
		CreatedAt:     nowUTC(),
	}
	if decision.Selected != nil {
		entry.SelectedEntityID = decision.Selected.ID
	}
	if err := s.appendAudit(ctx, entry); err != nil {
		s.errs.HandleHTTPError(w, requestID, err)
		return
	}

	metrics.InterpretRequests.With(prometheus.Labels{"state": string(decision.State)}).Inc()
	metrics.InterpretDuration.With(prometheus.Labels{"origin": string(intent.Origin)}).
		Observe(time.Since(started).Seconds())
	s.obs.RecordRequestProcessed(ctx, "interpret", string(decision.State))
	s.obs.RecordStageDuration(ctx, "interpret", time.Since(started))

	s.logger.Info("Interpreted utterance", map[string]interface{}{
		"request_id":  requestID,
		"tenant_id":   req.TenantID,
		"intent_type": string(intent.Type),
		"origin":      string(intent.Origin),
		"state":       string(decision.State),
		"candidates":  len(candidates),
	})

	writeJSON(w, http.StatusOK, resp)
}
