// internal/assistant/disambiguate/policy_test.go
package disambiguate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/models"
)

func testPolicy() *Policy {
	return NewPolicy(config.PolicyConfig{
		MarginThreshold:     0.15,
		AutoAcceptThreshold: 0.80,
		MinThreshold:        0.45,
		MaxAlternatives:     3,
	})
}

func cands(scores ...float64) []models.EntityCandidate {
	out := make([]models.EntityCandidate, len(scores))
	for i, score := range scores {
		out[i] = models.EntityCandidate{
			ID:         string(rune('a' + i)),
			TenantID:   "acme",
			FinalScore: score,
		}
	}
	return out
}

func TestDecideTransitions(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name   string
		scores []float64
		risk   models.RiskLevel
		origin models.IntentOrigin
		want   models.DecisionState
	}{
		{
			// Spec scenario: clear winner, low risk, LLM parse.
			name:   "clear winner auto-resolves",
			scores: []float64{0.93, 0.40},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateResolved,
		},
		{
			// Spec scenario: two close scores never auto-resolve.
			name:   "close scores are ambiguous",
			scores: []float64{0.61, 0.58},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateAmbiguous,
		},
		{
			// Spec scenario: heuristic origin forces confirmation even
			// with a single strong candidate.
			name:   "heuristic origin never resolves",
			scores: []float64{0.93, 0.40},
			risk:   models.RiskLow,
			origin: models.OriginHeuristic,
			want:   models.StateNeedsConfirmation,
		},
		{
			// Spec scenario: high risk always requires confirmation.
			name:   "high risk never resolves",
			scores: []float64{0.95},
			risk:   models.RiskHigh,
			origin: models.OriginLLM,
			want:   models.StateNeedsConfirmation,
		},
		{
			name:   "medium risk never resolves",
			scores: []float64{0.95},
			risk:   models.RiskMedium,
			origin: models.OriginLLM,
			want:   models.StateNeedsConfirmation,
		},
		{
			name:   "high score but thin margin needs a human",
			scores: []float64{0.85, 0.80},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateAmbiguous,
		},
		{
			name:   "wide margin but below auto-accept",
			scores: []float64{0.70, 0.30},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateNeedsConfirmation,
		},
		{
			name:   "nothing clears the floor",
			scores: []float64{0.30, 0.20},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateNoMatch,
		},
		{
			name:   "empty candidate list",
			scores: nil,
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateNoMatch,
		},
		{
			name:   "single viable candidate asks for confirmation",
			scores: []float64{0.60},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateNeedsConfirmation,
		},
		{
			name:   "sole candidate above auto-accept resolves on full margin",
			scores: []float64{0.90},
			risk:   models.RiskLow,
			origin: models.OriginLLM,
			want:   models.StateResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Decide(cands(tt.scores...), tt.risk, tt.origin)
			assert.Equal(t, tt.want, decision.State)
		})
	}
}

func TestDecideSelectsTopCandidate(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(cands(0.93, 0.40), models.RiskLow, models.OriginLLM)
	require.NotNil(t, decision.Selected)
	assert.Equal(t, "a", decision.Selected.ID)
}

func TestDecideShortlistCapped(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(cands(0.70, 0.68, 0.66, 0.64, 0.62), models.RiskLow, models.OriginLLM)
	require.Equal(t, models.StateAmbiguous, decision.State)
	assert.Len(t, decision.Alternatives, 3, "shortlist surfaces at most max_alternatives")
}

func TestDecideShortlistShorterThanCap(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(cands(0.70, 0.68), models.RiskLow, models.OriginLLM)
	require.Equal(t, models.StateAmbiguous, decision.State)
	assert.Len(t, decision.Alternatives, 2)
}

func TestDecideIsDeterministic(t *testing.T) {
	policy := testPolicy()
	input := cands(0.61, 0.58, 0.50)

	first := policy.Decide(input, models.RiskLow, models.OriginLLM)
	for i := 0; i < 100; i++ {
		again := policy.Decide(input, models.RiskLow, models.OriginLLM)
		require.Equal(t, first.State, again.State)
		require.Equal(t, len(first.Alternatives), len(again.Alternatives))
	}
}
