// internal/assistant/execute-action/plan.go
package executeaction

import (
	"fmt"

	"sprint-assistant/internal/common/errors"
	"sprint-assistant/internal/models"
)

// planWaves topologically sorts the steps into execution waves. Steps in
// the same wave have no dependencies on each other and may run
// concurrently; a wave only starts once every step of the previous waves
// has finished.
func planWaves(steps []models.ActionStep) ([][]models.ActionStep, error) {
	byID := make(map[string]models.ActionStep, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return nil, errors.NewValidationError("step without id")
		}
		if _, dup := byID[step.ID]; dup {
			return nil, errors.NewValidationError(fmt.Sprintf("duplicate step id %q", step.ID))
		}
		byID[step.ID] = step
	}

	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, errors.NewValidationError(fmt.Sprintf(
					"step %q depends on unknown step %q", step.ID, dep))
			}
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var waves [][]models.ActionStep
	// Seed from the declared order so the plan is stable for equal graphs.
	frontier := make([]string, 0, len(steps))
	for _, step := range steps {
		if indegree[step.ID] == 0 {
			frontier = append(frontier, step.ID)
		}
	}

	placed := 0
	for len(frontier) > 0 {
		wave := make([]models.ActionStep, 0, len(frontier))
		next := make([]string, 0)
		for _, id := range frontier {
			wave = append(wave, byID[id])
			placed++
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		waves = append(waves, wave)
		frontier = next
	}

	if placed != len(steps) {
		return nil, errors.NewValidationError("step dependencies form a cycle")
	}
	return waves, nil
}
