// internal/assistant/parse-intent/heuristic.go
package parseintent

import (
	"regexp"
	"strings"

	"sprint-assistant/internal/models"
)

// Heuristic fallback: fixed verb patterns mapped to intents, evaluated in
// order with first match winning. These parses get a fixed low confidence
// and origin "heuristic", which the disambiguation policy treats as never
// auto-resolvable.

type rule struct {
	pattern *regexp.Regexp
	intent  models.IntentType
}

// Order matters: sprint rules run before the generic item rules so "close
// the sprint" does not read as a status change, and bulk phrasing runs
// before single-item phrasing.
var rules = []rule{
	{regexp.MustCompile(`\b(start|begin|kick\s*off)\b.*\bsprint\b`), models.IntentStartSprint},
	{regexp.MustCompile(`\b(close|end|finish|complete)\b.*\bsprint\b`), models.IntentCloseSprint},
	{regexp.MustCompile(`\bmove\b.*\b(to|into)\b.*\bsprint\b`), models.IntentMoveToSprint},
	{regexp.MustCompile(`\b(all|every|each)\b.*\b(task|item|stor(y|ies))`), models.IntentBulkUpdateStatus},
	{regexp.MustCompile(`\bsplit\b`), models.IntentSplitStory},
	{regexp.MustCompile(`\b(delete|remove|drop|get rid of)\b`), models.IntentDeleteItem},
	{regexp.MustCompile(`\b(assign|give|hand)\b`), models.IntentAssignItem},
	{regexp.MustCompile(`\b(create|add|new)\b.*\btask\b`), models.IntentCreateTask},
	{regexp.MustCompile(`\b(finished|done|completed?|wrapped up|mark .* (done|complete))\b`), models.IntentMarkComplete},
	{regexp.MustCompile(`\b(set|change|update|switch)\b.*\b(status|state|to)\b`), models.IntentUpdateStatus},
}

var (
	quotedRe   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	theItemRe  = regexp.MustCompile(`\b(?:the|this|my|our)\s+([\w][\w -]*?)\s+(task|story|sprint)\b`)
	mentionRe  = regexp.MustCompile(`@([\w.-]+)`)
	sprintNoRe = regexp.MustCompile(`\bsprint\s+([\w-]+)\b`)
	statusRe   = regexp.MustCompile(`\b(?:to|status)\s+([\w-]+)\s*$`)
)

func (p *Parser) parseHeuristic(text string) *models.ParsedIntent {
	lowered := strings.ToLower(text)

	for _, r := range rules {
		if !r.pattern.MatchString(lowered) {
			continue
		}

		return &models.ParsedIntent{
			Type:             r.intent,
			Slots:            extractSlots(text, lowered, r.intent),
			SourceConfidence: p.cfg.HeuristicConfidence,
			Origin:           models.OriginHeuristic,
		}
	}

	return nil
}

// extractSlots pulls what it can from surface patterns. Heuristic slot
// extraction is crude on purpose; the policy forces a confirmation round
// for these parses anyway.
func extractSlots(text, lowered string, intent models.IntentType) map[string]string {
	slots := map[string]string{}

	if m := quotedRe.FindStringSubmatch(text); m != nil {
		quoted := m[1]
		if quoted == "" {
			quoted = m[2]
		}
		if intent == models.IntentCreateTask {
			slots[models.SlotTitle] = quoted
		} else {
			slots[models.SlotEntity] = quoted
		}
	}

	if m := theItemRe.FindStringSubmatch(lowered); m != nil {
		if _, ok := slots[models.SlotEntity]; !ok {
			slots[models.SlotEntity] = strings.TrimSpace(m[1])
		}
		slots[models.SlotEntityType] = m[2]
	}

	if m := mentionRe.FindStringSubmatch(text); m != nil {
		slots[models.SlotAssignee] = m[1]
	}

	if m := sprintNoRe.FindStringSubmatch(lowered); m != nil {
		name := "sprint " + m[1]
		switch intent {
		case models.IntentMoveToSprint:
			slots[models.SlotSprint] = name
		case models.IntentStartSprint, models.IntentCloseSprint:
			if _, ok := slots[models.SlotEntity]; !ok {
				slots[models.SlotEntity] = name
			}
			slots[models.SlotEntityType] = string(models.EntitySprint)
		}
	}

	if intent == models.IntentUpdateStatus || intent == models.IntentBulkUpdateStatus {
		if m := statusRe.FindStringSubmatch(lowered); m != nil {
			slots[models.SlotStatus] = m[1]
		}
	}
	if intent == models.IntentMarkComplete {
		slots[models.SlotStatus] = "done"
	}

	return slots
}
