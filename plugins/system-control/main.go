// Package main provides the system volume plugin for macOS.
// It reports the volume range and reads and sets the output volume via AppleScript.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Output volume bounds as exposed by `set volume output volume`.
const (
	volumeMin = 0
	volumeMax = 100
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Role   string          `json:"role"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// setParams carries the value for volume-set.
type setParams struct {
	Value *float64 `json:"value"`
}

// actionHandler handles one action and returns response data.
type actionHandler func(params json.RawMessage) (any, error)

var actionHandlers = map[string]actionHandler{
	"volume-range": volumeRange,
	"volume-get":   volumeGet,
	"volume-set":   volumeSet,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeResponse(Response{Error: fmt.Sprintf("unknown action: %s", req.Action)})
		return
	}

	data, err := handler(req.Params)
	if err != nil {
		writeResponse(Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)})
		return
	}

	writeResponse(Response{Success: true, Data: data})
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}

// runAppleScript executes an AppleScript command and returns its trimmed output.
func runAppleScript(script string) (string, error) {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

func volumeRange(json.RawMessage) (any, error) {
	return map[string]float64{"min": volumeMin, "max": volumeMax}, nil
}

func volumeGet(json.RawMessage) (any, error) {
	out, err := runAppleScript(`output volume of (get volume settings)`)
	if err != nil {
		return nil, err
	}
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected volume %q", out)
	}
	return map[string]float64{"value": v}, nil
}

// volumeSet rejects out-of-range values rather than clamping them.
func volumeSet(raw json.RawMessage) (any, error) {
	var p setParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Value == nil {
		return nil, fmt.Errorf("params must be {\"value\": number}")
	}

	v := *p.Value
	if math.IsNaN(v) || v < volumeMin || v > volumeMax {
		return nil, fmt.Errorf("value %v outside %d..%d", v, volumeMin, volumeMax)
	}

	level := int(math.Round(v))
	if _, err := runAppleScript(fmt.Sprintf("set volume output volume %d", level)); err != nil {
		return nil, err
	}
	return map[string]int{"value": level}, nil
}
