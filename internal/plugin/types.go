// Package plugin discovers and runs external control plugins.
//
// A plugin is a directory holding a plugin.json manifest and an executable.
// Each call runs the executable once with a JSON Request on stdin and reads a
// JSON Response from stdout.
package plugin

import (
	"encoding/json"
	"slices"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Actions     []string `json:"actions"`
}

// Request represents a request sent to a plugin for execution.
type Request struct {
	Action string          `json:"action"`
	Role   string          `json:"role,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Supports reports whether the manifest lists action.
func (p *Plugin) Supports(action string) bool {
	return slices.Contains(p.Manifest.Actions, action)
}
