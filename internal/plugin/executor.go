package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a plugin does not answer within the executor's timeout.
var ErrTimeout = errors.New("plugin execution timeout")

// Executor handles the execution of plugins with timeout support.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates a new Executor with the given per-call timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{
		timeout: timeout,
	}
}

// Timeout returns the per-call timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs plugin once with req on stdin and parses its stdout as a
// Response. The call is bounded by both ctx and the executor's timeout.
func (e *Executor) Execute(ctx context.Context, plugin *Plugin, req *Request) (*Response, error) {
	if !plugin.Supports(req.Action) {
		return nil, fmt.Errorf("plugin %s does not support action %q", plugin.Manifest.Name, req.Action)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, plugin.Executable)
	cmd.Dir = plugin.Path
	cmd.Stdin = bytes.NewReader(reqJSON)
	// Children of a killed script may hold stdout open.
	cmd.WaitDelay = 500 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("plugin execution failed: %w, stderr: %s", err, s)
		}
		return nil, fmt.Errorf("plugin execution failed: %w", err)
	}

	var response Response
	if err := json.Unmarshal(stdout.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("failed to parse plugin response: %w, stdout: %s", err, stdout.String())
	}

	return &response, nil
}

// Call executes req and turns an unsuccessful Response into an error.
// On success the response data, if any, is decoded into out.
func (e *Executor) Call(ctx context.Context, plugin *Plugin, req *Request, out any) error {
	resp, err := e.Execute(ctx, plugin, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("plugin %s action %s: %s", plugin.Manifest.Name, req.Action, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response data: %w", req.Action, err)
		}
	}
	return nil
}
