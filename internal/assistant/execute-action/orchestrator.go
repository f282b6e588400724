// internal/assistant/execute-action/orchestrator.go
package executeaction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/common/observability"
	"sprint-assistant/internal/history"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/ports"
)

// Orchestrator runs a confirmed draft as a small saga: dependency waves,
// per-step timeouts, one retry for idempotent steps on transient errors,
// and best-effort compensation in reverse completion order when a
// required step fails.
type Orchestrator struct {
	dispatcher *ports.Dispatcher
	history    history.Store
	cfg        config.OrchestratorConfig
	obs        *observability.Observability
	logger     logger.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(dispatcher *ports.Dispatcher, hist history.Store, cfg config.OrchestratorConfig, obs *observability.Observability, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		dispatcher: dispatcher,
		history:    hist,
		cfg:        cfg,
		obs:        obs,
		logger:     log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stepOutcome pairs a step with its execution record and captured output.
type stepOutcome struct {
	step   models.ActionStep
	result models.StepResult
	output map[string]interface{}
}

// Execute runs the draft for (tenant, user). A keyed execution first
// reserves its idempotency key in history, so a concurrent duplicate
// loses the reservation race before any step runs; a reused key replays
// the recorded result without touching the platform, and the same key
// bound to a different action is a conflict.
func (o *Orchestrator) Execute(ctx context.Context, tenantID, userID string, draft *models.ActionDraft, idempotencyKey string) (*models.ActResult, error) {
	if tenantID == "" {
		return nil, errors.NewTenantIsolationViolationError("execution requested without tenant id")
	}
	if draft == nil || len(draft.Steps) == 0 {
		return nil, errors.NewValidationError("nothing to execute")
	}

	reservationID := ""
	if idempotencyKey != "" {
		prior, err := o.history.FindActByIdempotencyKey(ctx, tenantID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return o.replay(ctx, userID, prior, draft, idempotencyKey)
		}
		reservationID, err = o.reserveKey(ctx, tenantID, userID, draft, idempotencyKey)
		if err != nil {
			if errors.From(err).Code == errors.ErrCodeIdempotencyConflict {
				// Lost the reservation race. The winner's entry, pending or
				// completed, now arbitrates.
				prior, findErr := o.history.FindActByIdempotencyKey(ctx, tenantID, idempotencyKey)
				if findErr != nil {
					return nil, findErr
				}
				if prior != nil {
					return o.replay(ctx, userID, prior, draft, idempotencyKey)
				}
			}
			return nil, err
		}
	}

	waves, err := planWaves(draft.Steps)
	if err != nil {
		return nil, err
	}

	log := o.logger.WithFields(map[string]interface{}{
		"tenant_id":   tenantID,
		"action_type": string(draft.ActionType),
		"steps":       len(draft.Steps),
	})
	log.Info("Executing action draft", nil)

	outcomes, aborted := o.runWaves(ctx, tenantID, waves, log)

	result := &models.ActResult{}
	succeeded := 0
	for _, oc := range outcomes {
		if oc.result.Status == models.StepSucceeded {
			succeeded++
		}
	}
	result.Success = !aborted
	result.PartialSuccess = aborted && succeeded > 0

	if aborted {
		compensated := o.compensate(ctx, tenantID, outcomes, log)
		if compensated > 0 {
			result.RollbackToken = uuid.NewString()
		}
	}

	for i := range outcomes {
		result.StepResults = append(result.StepResults, outcomes[i].result)
	}

	if reservationID != "" {
		if err := o.history.CompleteAct(ctx, tenantID, reservationID, result); err != nil {
			log.WithError(err).Error("Failed to complete reserved act entry", map[string]interface{}{
				"entry_id": reservationID,
			})
		}
	} else {
		o.appendHistory(ctx, tenantID, userID, draft, result, log)
	}
	return result, nil
}

// reserveKey appends a pending act entry carrying the idempotency key
// before any step runs. The store's uniqueness check on (tenant, key)
// makes this the arbiter between concurrent duplicates.
func (o *Orchestrator) reserveKey(ctx context.Context, tenantID, userID string, draft *models.ActionDraft, key string) (string, error) {
	entry := models.AuditEntry{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         userID,
		Kind:           models.AuditAct,
		ActionType:     draft.ActionType,
		Risk:           draft.RiskLevel,
		Draft:          draft,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.history.Append(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// replay returns the recorded outcome for a reused key, or a conflict if
// the key was bound to a different action or target, or if the original
// execution is still in flight. Replays are audited like executions.
func (o *Orchestrator) replay(ctx context.Context, userID string, prior *models.AuditEntry, draft *models.ActionDraft, key string) (*models.ActResult, error) {
	if prior.ActionType != draft.ActionType ||
		(prior.Draft != nil && prior.Draft.TargetEntityID != draft.TargetEntityID) {
		return nil, errors.NewIdempotencyConflictError(key)
	}
	if prior.Result == nil {
		return nil, errors.NewIdempotencyConflictError(key)
	}
	replayed := *prior.Result
	replayed.Replayed = true

	// The replay entry carries no idempotency key: the unique index only
	// guards executions, and a replay must not trip it.
	entry := models.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   prior.TenantID,
		UserID:     userID,
		Kind:       models.AuditAct,
		ActionType: prior.ActionType,
		Risk:       prior.Risk,
		Result:     &replayed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.history.Append(ctx, entry); err != nil {
		o.logger.WithError(err).Error("Failed to append replay history", map[string]interface{}{
			"entry_id": entry.ID,
		})
	}
	o.logger.Info("Replayed recorded execution for idempotency key", map[string]interface{}{
		"tenant_id": prior.TenantID,
		"entry_id":  prior.ID,
	})
	return &replayed, nil
}

// runWaves executes waves in order, steps within a wave concurrently. A
// required step failing finishes the current wave, marks the rest not_run
// and reports aborted.
func (o *Orchestrator) runWaves(ctx context.Context, tenantID string, waves [][]models.ActionStep, log logger.Logger) ([]*stepOutcome, bool) {
	var outcomes []*stepOutcome
	aborted := false

	for _, wave := range waves {
		waveOutcomes := make([]*stepOutcome, len(wave))

		if aborted {
			for i, step := range wave {
				waveOutcomes[i] = &stepOutcome{
					step:   step,
					result: models.StepResult{StepID: step.ID, Status: models.StepNotRun},
				}
			}
			outcomes = append(outcomes, waveOutcomes...)
			continue
		}

		var wg sync.WaitGroup
		for i, step := range wave {
			wg.Add(1)
			go func(i int, step models.ActionStep) {
				defer wg.Done()
				waveOutcomes[i] = o.runStep(ctx, tenantID, step, log)
			}(i, step)
		}
		wg.Wait()

		for _, oc := range waveOutcomes {
			if oc.result.Status == models.StepFailed {
				aborted = true
			}
		}
		outcomes = append(outcomes, waveOutcomes...)
	}
	return outcomes, aborted
}

// runStep invokes one step under the per-step budget. Idempotent steps
// get one retry on transient errors; optional steps record their failure
// as skipped so the plan continues.
func (o *Orchestrator) runStep(ctx context.Context, tenantID string, step models.ActionStep, log logger.Logger) *stepOutcome {
	oc := &stepOutcome{step: step, result: models.StepResult{StepID: step.ID}}

	started := time.Now()
	attempts := 0
	var output map[string]interface{}
	var err error

	for {
		attempts++
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepBudget())
		output, err = o.dispatcher.Invoke(stepCtx, tenantID, step.Port, step.Op, step.Params)
		cancel()

		if err == nil || attempts > 1 || !step.Idempotent || !errors.IsTransient(err) {
			break
		}
		o.obs.RecordStepRetry(ctx, step.Port)
		log.Warn("Retrying idempotent step after transient failure", map[string]interface{}{
			"step_id": step.ID,
			"port":    step.Port,
			"op":      step.Op,
			"error":   err.Error(),
		})
		if sleepErr := o.sleep(ctx, o.cfg.Backoff()); sleepErr != nil {
			break
		}
	}

	oc.result.Attempts = attempts
	oc.result.DurationMS = time.Since(started).Milliseconds()
	metrics.StepDuration.With(prometheus.Labels{"port": step.Port}).
		Observe(time.Since(started).Seconds())

	if err != nil {
		stdErr := errors.From(err)
		metrics.StepFailures.With(prometheus.Labels{
			"port":       step.Port,
			"error_code": string(stdErr.Code),
		}).Inc()
		oc.result.Error = stdErr.Error()
		if step.CanSkip {
			oc.result.Status = models.StepSkipped
			log.Warn("Optional step failed, continuing", map[string]interface{}{
				"step_id": step.ID, "port": step.Port, "error": stdErr.Error(),
			})
		} else {
			oc.result.Status = models.StepFailed
			log.WithError(stdErr).Error("Step failed", map[string]interface{}{
				"step_id": step.ID, "port": step.Port, "op": step.Op,
			})
		}
		return oc
	}

	oc.output = output
	oc.result.Status = models.StepSucceeded
	oc.result.Detail = step.Description
	return oc
}

// compensate undoes succeeded steps that declared a compensation, newest
// first. Compensation failures are logged, never raised; the caller hands
// the operator a rollback token either way.
func (o *Orchestrator) compensate(ctx context.Context, tenantID string, outcomes []*stepOutcome, log logger.Logger) int {
	ran := 0
	for i := len(outcomes) - 1; i >= 0; i-- {
		oc := outcomes[i]
		if oc.result.Status != models.StepSucceeded || oc.step.Compensation == nil {
			continue
		}
		comp := oc.step.Compensation
		params := substituteParams(comp.Params, oc.output)

		compCtx, cancel := context.WithTimeout(ctx, o.cfg.StepBudget())
		_, err := o.dispatcher.Invoke(compCtx, tenantID, comp.Port, comp.Op, params)
		cancel()

		ran++
		if err != nil {
			o.obs.RecordCompensation(ctx, "failed")
			log.WithError(err).Error("Compensation failed", map[string]interface{}{
				"step_id": oc.step.ID,
				"port":    comp.Port,
				"op":      comp.Op,
			})
			continue
		}
		o.obs.RecordCompensation(ctx, "succeeded")
		oc.result.Compensated = true
		log.Info("Compensated step", map[string]interface{}{
			"step_id": oc.step.ID,
			"detail":  comp.Description,
		})
	}
	return ran
}

// substituteParams fills "$output.<key>" placeholders from the step's
// captured output, so compensations can reference ids that only exist
// after the step ran.
func substituteParams(params, output map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		ref, ok := v.(string)
		if !ok || !strings.HasPrefix(ref, "$output.") {
			resolved[k] = v
			continue
		}
		key := strings.TrimPrefix(ref, "$output.")
		if value, present := output[key]; present {
			resolved[k] = value
		} else {
			resolved[k] = v
		}
	}
	return resolved
}

// appendHistory records a keyless execution. Keyed executions go through
// reserveKey and CompleteAct instead.
func (o *Orchestrator) appendHistory(ctx context.Context, tenantID, userID string, draft *models.ActionDraft, result *models.ActResult, log logger.Logger) {
	entry := models.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		Kind:       models.AuditAct,
		ActionType: draft.ActionType,
		Risk:       draft.RiskLevel,
		Draft:      draft,
		Result:     result,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.history.Append(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to append act history", map[string]interface{}{
			"entry_id": entry.ID,
		})
	}
}

// Describe summarizes the plan for logs and responses.
func Describe(draft *models.ActionDraft) string {
	if draft == nil {
		return ""
	}
	parts := make([]string, 0, len(draft.Steps))
	for _, step := range draft.Steps {
		parts = append(parts, fmt.Sprintf("%s.%s", step.Port, step.Op))
	}
	return strings.Join(parts, " -> ")
}
