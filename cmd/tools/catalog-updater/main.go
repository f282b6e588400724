// cmd/tools/catalog-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"sprint-assistant/pkg/catalog"
)

var catalogPath string

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	// Export command flags
	exportCmd.StringVar(&catalogPath, "path", "configs/action-catalog.json", "Path to catalog file")

	// Update command flags
	idUpdate := updateCmd.String("id", "", "Action ID to update (e.g., mark_complete)")
	field := updateCmd.String("field", "", "Field to update (enabled, displayName, description, version)")
	value := updateCmd.String("value", "", "New value for the field")
	updateCmd.StringVar(&catalogPath, "path", "configs/action-catalog.json", "Path to catalog file")

	// Validate command flags
	validateCmd.StringVar(&catalogPath, "path", "configs/action-catalog.json", "Path to catalog file")

	// List command flags
	listCmd.StringVar(&catalogPath, "path", "configs/action-catalog.json", "Path to catalog file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		if err := exportDefault(); err != nil {
			fmt.Printf("Error exporting catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default catalog to %s\n", catalogPath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateAction(*idUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating action: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated action %s, field %s to %s\n", *idUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateCatalog(); err != nil {
			fmt.Printf("Catalog validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Catalog validation passed.")

	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listActions(); err != nil {
			fmt.Printf("Error listing actions: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

// exportDefault writes the compiled-in catalog so operators can start
// editing from the real risk table instead of a hand-typed file.
func exportDefault() error {
	if _, err := os.Stat(catalogPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", catalogPath)
	}
	cat := catalog.Default()
	cat.LastUpdated = time.Now().Format("2006-01-02")
	return cat.Save(catalogPath)
}

func updateAction(id, field, value string) error {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	found := false
	for i := range cat.Actions {
		if cat.Actions[i].ID != id {
			continue
		}
		found = true
		switch field {
		case "enabled":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid enabled value: %w", err)
			}
			cat.Actions[i].Enabled = enabled
		case "displayName":
			cat.Actions[i].DisplayName = value
		case "description":
			cat.Actions[i].Description = value
		case "version":
			cat.Actions[i].Version = value
		default:
			// Risk, entity kinds and required slots stay under version
			// control, not flag edits.
			return fmt.Errorf("unknown or protected field: %s", field)
		}
		break
	}

	if !found {
		return fmt.Errorf("action with ID %s not found", id)
	}

	if err := cat.Validate(); err != nil {
		return fmt.Errorf("catalog invalid after update: %w", err)
	}

	cat.LastUpdated = time.Now().Format("2006-01-02")
	return cat.Save(catalogPath)
}

func validateCatalog() error {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return err
	}
	fmt.Printf("Catalog validation passed. Found %d actions.\n", len(cat.Actions))
	return nil
}

func listActions() error {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	fmt.Printf("%-22s %-8s %-8s %s\n", "ID", "RISK", "ENABLED", "DISPLAY NAME")
	for _, action := range cat.Actions {
		fmt.Printf("%-22s %-8s %-8t %s\n", action.ID, action.Risk, action.Enabled, action.DisplayName)
	}
	return nil
}

func help() {
	fmt.Println(`catalog-updater manages the action catalog file.

Usage:
  catalog-updater export   [-path configs/action-catalog.json]
  catalog-updater update   -id <action> -field <field> -value <value> [-path ...]
  catalog-updater validate [-path ...]
  catalog-updater list     [-path ...]

Fields editable via update: enabled, displayName, description, version.
Risk levels, entity kinds and required slots are compiled in.`)
}
