// internal/assistant/resolve-entities/resolver.go
package resolveentities

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"sprint-assistant/internal/common/config"
	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/common/logger"
	"sprint-assistant/internal/common/metrics"
	"sprint-assistant/internal/models"
	"sprint-assistant/internal/search"
)

// Resolver grounds an intent's entity slot into ranked candidates by
// fanning out the vector and lexical retrieval legs concurrently and
// merging them with recency and exact-title boosts. One failed leg
// degrades to the other; both failing is SEARCH_FAILED.
type Resolver struct {
	embedder search.Embedder
	index    search.Index
	cfg      config.ResolverConfig
	logger   logger.Logger

	// now is injectable so recency scoring is deterministic in tests.
	now func() time.Time
}

func NewResolver(embedder search.Embedder, index search.Index, cfg config.ResolverConfig, log logger.Logger) *Resolver {
	return &Resolver{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "entity-resolver"}),
		now:      time.Now,
	}
}

// Resolve returns up to TopK candidates for the intent's entity reference,
// best first. An empty entity slot resolves to an empty list, which the
// policy downstream reads as NoMatch.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, intent *models.ParsedIntent) ([]models.EntityCandidate, error) {
	if tenantID == "" {
		metrics.TenantViolations.WithLabelValues("resolver").Inc()
		r.logger.Error("resolve without tenant id", map[string]interface{}{"security_event": true})
		return nil, errors.NewTenantIsolationViolationError("resolve requested without tenant id")
	}

	slot := intent.Slot(models.SlotEntity)
	normalized := search.Normalize(slot)
	if normalized == "" {
		return nil, nil
	}

	entityType := entityHint(intent)

	vectorHits, lexicalHits, err := r.retrieve(ctx, tenantID, normalized, entityType)
	if err != nil {
		return nil, err
	}

	candidates := r.merge(tenantID, normalized, vectorHits, lexicalHits)
	if err := r.verifyTenant(tenantID, candidates); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > r.cfg.TopK {
		candidates = candidates[:r.cfg.TopK]
	}
	return candidates, nil
}

// retrieve runs both legs concurrently under per-leg timeouts. The vector
// leg needs an embedding first; embedding failure only loses that leg.
func (r *Resolver) retrieve(ctx context.Context, tenantID, text, entityType string) ([]search.Hit, []search.Hit, error) {
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		vectorHits  []search.Hit
		lexicalHits []search.Hit
		vectorErr   error
		lexicalErr  error
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		legCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryBudget())
		defer cancel()

		vector, err := r.embedder.Embed(legCtx, tenantID, text)
		if err == nil {
			var hits []search.Hit
			hits, err = r.index.VectorSearch(legCtx, tenantID, vector, entityType, r.cfg.PerLegK)
			if err == nil {
				mu.Lock()
				vectorHits = hits
				mu.Unlock()
				return
			}
		}
		mu.Lock()
		vectorErr = err
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		legCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryBudget())
		defer cancel()

		hits, err := r.index.LexicalSearch(legCtx, tenantID, text, entityType, r.cfg.PerLegK)
		mu.Lock()
		lexicalHits, lexicalErr = hits, err
		mu.Unlock()
	}()

	wg.Wait()

	// Tenant violations are fatal no matter what the other leg returned.
	for _, err := range []error{vectorErr, lexicalErr} {
		if err != nil && errors.From(err).Code == errors.ErrCodeTenantIsolationViolation {
			return nil, nil, err
		}
	}

	if vectorErr != nil && lexicalErr != nil {
		return nil, nil, errors.NewSearchFailedError("both", fmt.Errorf("vector: %v; lexical: %v", vectorErr, lexicalErr))
	}
	if vectorErr != nil {
		r.logger.Warn("vector leg failed, degrading to lexical", map[string]interface{}{"error": vectorErr.Error()})
	}
	if lexicalErr != nil {
		r.logger.Warn("lexical leg failed, degrading to vector", map[string]interface{}{"error": lexicalErr.Error()})
	}

	return vectorHits, lexicalHits, nil
}

// merge unions the legs by entity id, taking the max normalized score plus
// a small bonus when both legs agree, then applies the boosts.
func (r *Resolver) merge(tenantID, normalized string, vectorHits, lexicalHits []search.Hit) []models.EntityCandidate {
	type merged struct {
		doc     search.EntityDocument
		vector  float64
		lexical float64
		both    bool
	}

	byID := map[string]*merged{}
	for _, hit := range vectorHits {
		byID[hit.ID] = &merged{doc: hit.EntityDocument, vector: hit.Score}
	}
	for _, hit := range lexicalHits {
		if entry, ok := byID[hit.ID]; ok {
			entry.lexical = hit.Score
			entry.both = true
			continue
		}
		byID[hit.ID] = &merged{doc: hit.EntityDocument, lexical: hit.Score}
	}

	now := r.now()
	candidates := make([]models.EntityCandidate, 0, len(byID))
	for _, entry := range byID {
		retrieval := math.Max(entry.vector, entry.lexical)
		if entry.both {
			retrieval += r.cfg.BothHitBonus
		}

		recency := r.recencyBoost(now, entry.doc.UpdatedAt)

		exact := 0.0
		if isExactMatch(normalized, search.Normalize(entry.doc.Title)) {
			exact = r.cfg.ExactMatchBoost
		}

		candidates = append(candidates, models.EntityCandidate{
			ID:              entry.doc.ID,
			TenantID:        entry.doc.TenantID,
			EntityType:      models.EntityType(entry.doc.EntityType),
			Title:           entry.doc.Title,
			Status:          entry.doc.Status,
			Assignee:        entry.doc.Assignee,
			UpdatedAt:       entry.doc.UpdatedAt,
			RetrievalScore:  clamp01(retrieval),
			RecencyBoost:    recency,
			ExactMatchBoost: exact,
			FinalScore:      clamp01(retrieval + recency + exact),
			Evidence:        evidenceChips(entry.doc, now),
		})
	}
	return candidates
}

// verifyTenant is the last line of defense: by the time candidates exist,
// every one must belong to the requesting tenant.
func (r *Resolver) verifyTenant(tenantID string, candidates []models.EntityCandidate) error {
	for _, candidate := range candidates {
		if candidate.TenantID != tenantID {
			metrics.TenantViolations.WithLabelValues("resolver").Inc()
			r.logger.Error("cross-tenant candidate after merge", map[string]interface{}{
				"security_event": true,
				"candidateId":    candidate.ID,
			})
			return errors.NewTenantIsolationViolationError(
				fmt.Sprintf("candidate %s belongs to another tenant", candidate.ID))
		}
	}
	return nil
}

// recencyBoost decays exponentially with the configured half-life.
func (r *Resolver) recencyBoost(now, updatedAt time.Time) float64 {
	if updatedAt.IsZero() || r.cfg.RecencyWeight <= 0 {
		return 0
	}
	days := now.Sub(updatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return r.cfg.RecencyWeight * math.Exp(-days*math.Ln2/r.cfg.RecencyHalfLifeDays)
}

// isExactMatch accepts equality or a single edit of distance, so "login"
// still matches a title normalized to "logins".
func isExactMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return levenshtein(a, b) <= 1
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// entityHint narrows the search universe when either the parser or the
// action itself pins the entity kind.
func entityHint(intent *models.ParsedIntent) string {
	if hinted := models.EntityType(intent.Slot(models.SlotEntityType)); hinted.Valid() {
		return string(hinted)
	}
	switch intent.Type {
	case models.IntentStartSprint, models.IntentCloseSprint:
		return string(models.EntitySprint)
	case models.IntentSplitStory:
		return string(models.EntityStory)
	}
	return ""
}

// evidenceChips surfaces why a candidate is plausible. Explanatory only;
// the scores above are what actually rank.
func evidenceChips(doc search.EntityDocument, now time.Time) []models.EvidenceChip {
	var chips []models.EvidenceChip

	for i, pr := range doc.LinkedPRs {
		if i >= 2 {
			break
		}
		chips = append(chips, models.EvidenceChip{Kind: models.EvidencePR, Label: "Linked PR", Value: pr})
	}
	for i, commit := range doc.LinkedCommits {
		if i >= 2 {
			break
		}
		chips = append(chips, models.EvidenceChip{Kind: models.EvidenceCommit, Label: "Recent commit", Value: commit})
	}
	if doc.Assignee != "" {
		chips = append(chips, models.EvidenceChip{Kind: models.EvidenceAssignment, Label: "Assigned to", Value: doc.Assignee})
	}
	if !doc.UpdatedAt.IsZero() {
		chips = append(chips, models.EvidenceChip{Kind: models.EvidenceTime, Label: "Last updated", Value: humanizeAge(now.Sub(doc.UpdatedAt))})
	}
	for i, mention := range doc.Mentions {
		if i >= 1 {
			break
		}
		chips = append(chips, models.EvidenceChip{Kind: models.EvidenceMention, Label: "Mentioned", Value: mention})
	}
	return chips
}

func humanizeAge(age time.Duration) string {
	switch {
	case age < time.Hour:
		return "less than an hour ago"
	case age < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}
}
