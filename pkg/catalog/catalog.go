// pkg/catalog/catalog.go
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"sprint-assistant/internal/models"
)

// Default returns the compiled-in catalog. A configs file may override
// display metadata and enablement but the ID set and risk table below are
// the source of truth for validation.
func Default() *ActionCatalog {
	return &ActionCatalog{
		Version:     "1.0.0",
		LastUpdated: "2026-07-01",
		Actions: []Action{
			{
				ID:            string(models.IntentMarkComplete),
				DisplayName:   "Mark Complete",
				Description:   "Set a story or task to its done status",
				Risk:          string(models.RiskLow),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentUpdateStatus),
				DisplayName:   "Update Status",
				Description:   "Set a story or task to a specific status",
				Risk:          string(models.RiskLow),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity, models.SlotStatus},
				Mutating:      true,
				Notifies:      false,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentAssignItem),
				DisplayName:   "Assign Item",
				Description:   "Assign a story or task to a user",
				Risk:          string(models.RiskLow),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity, models.SlotAssignee},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentCreateTask),
				DisplayName:   "Create Task",
				Description:   "Create a task, optionally under a parent story",
				Risk:          string(models.RiskLow),
				EntityKinds:   []string{"task"},
				RequiredSlots: []string{models.SlotTitle},
				Mutating:      true,
				Notifies:      false,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentSplitStory),
				DisplayName:   "Split Story",
				Description:   "Split a story into two, moving remaining criteria",
				Risk:          string(models.RiskMedium),
				EntityKinds:   []string{"story"},
				RequiredSlots: []string{models.SlotEntity},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentMoveToSprint),
				DisplayName:   "Move To Sprint",
				Description:   "Move a story or task into a sprint",
				Risk:          string(models.RiskMedium),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity, models.SlotSprint},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentBulkUpdateStatus),
				DisplayName:   "Bulk Update Status",
				Description:   "Set the status of several items at once",
				Risk:          string(models.RiskMedium),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity, models.SlotStatus},
				Mutating:      true,
				Notifies:      false,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentStartSprint),
				DisplayName:   "Start Sprint",
				Description:   "Activate a sprint",
				Risk:          string(models.RiskMedium),
				EntityKinds:   []string{"sprint"},
				RequiredSlots: []string{models.SlotEntity},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentCloseSprint),
				DisplayName:   "Close Sprint",
				Description:   "Close a sprint and roll incomplete items back to the backlog",
				Risk:          string(models.RiskHigh),
				EntityKinds:   []string{"sprint"},
				RequiredSlots: []string{models.SlotEntity},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
			{
				ID:            string(models.IntentDeleteItem),
				DisplayName:   "Delete Item",
				Description:   "Delete a story or task",
				Risk:          string(models.RiskHigh),
				EntityKinds:   []string{"story", "task"},
				RequiredSlots: []string{models.SlotEntity},
				Mutating:      true,
				Notifies:      true,
				Version:       "1.0.0",
				Enabled:       true,
			},
		},
	}
}

// Load reads the catalog from path, falling back to the compiled default
// when the file does not exist. The result is always validated.
func Load(path string) (*ActionCatalog, error) {
	if path == "" {
		cat := Default()
		return cat, cat.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cat := Default()
			return cat, cat.Validate()
		}
		return nil, err
	}

	var cat ActionCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	return &cat, nil
}

// Save writes the catalog to path as indented JSON.
func (c *ActionCatalog) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate enforces the closed action set: every entry must name a known
// intent type with a known risk level, without duplicates, and every intent
// type must have exactly one entry so the risk table stays total.
func (c *ActionCatalog) Validate() error {
	seen := map[string]bool{}

	for _, action := range c.Actions {
		if !models.IntentType(action.ID).Valid() {
			return fmt.Errorf("unknown action id %q", action.ID)
		}
		if seen[action.ID] {
			return fmt.Errorf("duplicate action id %q", action.ID)
		}
		seen[action.ID] = true

		switch models.RiskLevel(action.Risk) {
		case models.RiskLow, models.RiskMedium, models.RiskHigh:
		default:
			return fmt.Errorf("action %q: invalid risk %q", action.ID, action.Risk)
		}

		if len(action.EntityKinds) == 0 {
			return fmt.Errorf("action %q: entityKinds must not be empty", action.ID)
		}
		for _, kind := range action.EntityKinds {
			if !models.EntityType(kind).Valid() {
				return fmt.Errorf("action %q: invalid entity kind %q", action.ID, kind)
			}
		}
	}

	for _, intentType := range models.AllIntentTypes() {
		if !seen[string(intentType)] {
			return fmt.Errorf("missing catalog entry for %q", intentType)
		}
	}

	return nil
}

// Lookup returns the catalog entry for an action type.
func (c *ActionCatalog) Lookup(actionType models.IntentType) (Action, bool) {
	for _, action := range c.Actions {
		if action.ID == string(actionType) {
			return action, true
		}
	}
	return Action{}, false
}

// RiskOf returns the static risk level for an action type. Unknown types
// rank as high so nothing slips past confirmation.
func (c *ActionCatalog) RiskOf(actionType models.IntentType) models.RiskLevel {
	if action, ok := c.Lookup(actionType); ok {
		return models.RiskLevel(action.Risk)
	}
	return models.RiskHigh
}
