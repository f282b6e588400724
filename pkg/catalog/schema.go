// pkg/catalog/schema.go
package catalog

// ActionCatalog is the versioned list of actions the assistant may draft.
// The set of IDs is closed: the file can tune metadata but cannot invent
// action types.
type ActionCatalog struct {
	Version     string   `json:"version"`
	LastUpdated string   `json:"lastUpdated"`
	Actions     []Action `json:"actions"`
}

// Action describes one executable action type.
type Action struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	Description   string   `json:"description"`
	Risk          string   `json:"risk"` // low, medium, high
	EntityKinds   []string `json:"entityKinds"`
	RequiredSlots []string `json:"requiredSlots,omitempty"`
	Mutating      bool     `json:"mutating"`
	Notifies      bool     `json:"notifies"`
	Version       string   `json:"version"`
	Enabled       bool     `json:"enabled"`
	Tags          []string `json:"tags,omitempty"`
}
