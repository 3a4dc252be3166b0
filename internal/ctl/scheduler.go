package ctl

import "strings"

// Pause pauses automatic pass scheduling on the daemon (POST /api/pause).
func Pause(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/pause", "PAUSED", jsonOutput)
}

// Resume resumes automatic pass scheduling on the daemon
// (POST /api/resume).
func Resume(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/resume", "RESUMED", jsonOutput)
}

// Skip skips the current or next scheduled pass (POST /api/skip).
func Skip(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/skip", "SKIPPED", jsonOutput)
}

// Cancel aborts an in-progress capture (POST /api/cancel).
func Cancel(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/cancel", "CANCELLED", jsonOutput)
}

// TLERefresh forces a TLE data update from the network
// (POST /api/tle-refresh).
func TLERefresh(baseURL string, jsonOutput bool) error {
	return schedulerControl(baseURL, "/api/tle-refresh", "REFRESHED", jsonOutput)
}

func schedulerControl(baseURL, path, label string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result commandResult
	if err := postJSON(baseURL, path, nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	printCommandResult(label, result)
	return nil
}
