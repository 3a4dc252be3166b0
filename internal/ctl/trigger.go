package ctl

import (
	"fmt"
	"strings"
)

// TriggerOptions controls the trigger command.
type TriggerOptions struct {
	CatalogID       int
	DurationSeconds int
	JSON            bool
}

// commandResult mirrors scheduler.CommandResult's JSON shape.
type commandResult struct {
	OK                bool   `json:"ok"`
	Message           string `json:"message"`
	Error             string `json:"error"`
	SatellitesUpdated int    `json:"satellites_updated"`
}

// Trigger forces an immediate capture of a known catalog satellite
// (POST /api/trigger). Unlike SSTVCapture, this requires a catalog_id
// and goes through the Scheduler's command queue rather than a direct
// manual-capture path.
func Trigger(baseURL string, opts TriggerOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	if opts.CatalogID == 0 {
		return fmt.Errorf("--catalog-id is required")
	}

	body := map[string]int{
		"catalog_id":       opts.CatalogID,
		"duration_seconds": opts.DurationSeconds,
	}
	var result commandResult
	if err := postJSON(baseURL, "/api/trigger", body, &result); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(result)
	}
	printCommandResult("TRIGGERED", result)
	return nil
}

// printCommandResult renders a CommandResult with a green label on success
// or a red "ERROR" label with its message on failure.
func printCommandResult(label string, result commandResult) {
	fmt.Println()
	if result.OK {
		fmt.Printf("  %s  %s\n", colorize(green, label), result.Message)
	} else {
		fmt.Printf("  %s  %s\n", colorize(red, "ERROR"), result.Error)
	}
	fmt.Println()
}
