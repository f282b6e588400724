// internal/assistant/disambiguate/policy.go
package disambiguate

import (
	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/models"
)

// Policy decides what happens with a ranked candidate list: auto-select,
// ask for confirmation, show a shortlist, or report no match. It is a pure
// function of its inputs — identical candidates, risk, and origin always
// produce the identical decision.
type Policy struct {
	cfg config.PolicyConfig
}

func NewPolicy(cfg config.PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Decision is the policy outcome. Selected is set for Resolved and
// NeedsConfirmation; Alternatives carries the shortlist for Ambiguous.
type Decision struct {
	State        models.DecisionState
	Selected     *models.EntityCandidate
	Alternatives []models.EntityCandidate
}

// Decide evaluates the transition rule once. Auto-resolution requires all
// four gates at once: a clear margin over the runner-up, an absolute score
// above the auto-accept threshold, a low-risk action, and an LLM-origin
// parse. Heuristic parses can never auto-resolve regardless of scores.
func (p *Policy) Decide(candidates []models.EntityCandidate, risk models.RiskLevel, origin models.IntentOrigin) Decision {
	viable := make([]models.EntityCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.FinalScore >= p.cfg.MinThreshold {
			viable = append(viable, candidate)
		}
	}

	if len(viable) == 0 {
		return Decision{State: models.StateNoMatch}
	}

	top := viable[0]
	margin := top.FinalScore
	if len(viable) > 1 {
		margin = top.FinalScore - viable[1].FinalScore
	}

	if margin >= p.cfg.MarginThreshold &&
		top.FinalScore >= p.cfg.AutoAcceptThreshold &&
		risk == models.RiskLow &&
		origin == models.OriginLLM {
		return Decision{State: models.StateResolved, Selected: &top}
	}

	if len(viable) == 1 {
		return Decision{State: models.StateNeedsConfirmation, Selected: &top}
	}

	shortlist := viable
	if len(shortlist) > p.cfg.MaxAlternatives {
		shortlist = shortlist[:p.cfg.MaxAlternatives]
	}
	return Decision{State: models.StateAmbiguous, Alternatives: shortlist}
}
