// internal/assistant/parse-intent/schema.go
package parseintent

import (
	"fmt"
	"strings"

	"sprint-assistant/internal/models"
)

// intentSchema validates the model's structured output before anything
// downstream sees it. The type enum is generated from the closed intent set
// so the schema cannot drift from the compiled one.
func intentSchema() map[string]interface{} {
	types := models.AllIntentTypes()
	enum := make([]interface{}, len(types))
	for i, t := range types {
		enum[i] = string(t)
	}

	return map[string]interface{}{
		"type":                 "object",
		"required":             []interface{}{"type", "confidence"},
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"type": map[string]interface{}{
				"type": "string",
				"enum": enum,
			},
			"slots": map[string]interface{}{
				"type": "object",
				"additionalProperties": map[string]interface{}{
					"type": "string",
				},
			},
			"confidence": map[string]interface{}{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
		},
	}
}

// systemPrompt enumerates the closed intent set and the slot vocabulary.
// The model may only pick from this list; anything else fails schema
// validation and falls through to the heuristic parser.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You translate a project-management request into a JSON intent.\n")
	b.WriteString("Respond with a single JSON object: ")
	b.WriteString(`{"type": "<intent>", "slots": {...}, "confidence": <0..1>}.` + "\n\n")
	b.WriteString("Allowed intent types (pick exactly one, never invent new ones):\n")
	for _, t := range models.AllIntentTypes() {
		b.WriteString(fmt.Sprintf("- %s\n", t))
	}
	b.WriteString("\nSlot keys, use only the ones the utterance supports:\n")
	b.WriteString(fmt.Sprintf("- %s: the referenced story/task/sprint, verbatim from the utterance\n", models.SlotEntity))
	b.WriteString(fmt.Sprintf("- %s: one of story, task, sprint when the utterance makes it clear\n", models.SlotEntityType))
	b.WriteString(fmt.Sprintf("- %s: the requested status value\n", models.SlotStatus))
	b.WriteString(fmt.Sprintf("- %s: the person an item should be assigned to\n", models.SlotAssignee))
	b.WriteString(fmt.Sprintf("- %s: the referenced sprint name\n", models.SlotSprint))
	b.WriteString(fmt.Sprintf("- %s: the title for a new task or split-off story\n", models.SlotTitle))
	b.WriteString(fmt.Sprintf("- %s: the parent story for a new task\n", models.SlotParent))
	b.WriteString("\nConfidence reflects how certain you are about the intent type and the entity reference.")
	return b.String()
}
