// Package sink provides control.Sink implementations.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/ayusman/kinesis/internal/plugin"
)

// Plugin actions a continuous-control plugin must support.
const (
	ActionRange = "volume-range"
	ActionGet   = "volume-get"
	ActionSet   = "volume-set"
)

// PluginSink drives a control through an external plugin, e.g. the
// system-control volume plugin. Plugins apply whole units, so a write
// that rounds to the last applied value is skipped.
type PluginSink struct {
	role     string
	plugin   *plugin.Plugin
	executor *plugin.Executor

	mu      sync.Mutex
	applied float64
	known   bool
}

// NewPluginSink looks up name in mgr and checks it supports the range and
// set actions.
func NewPluginSink(mgr *plugin.Manager, exec *plugin.Executor, name, role string) (*PluginSink, error) {
	p, err := mgr.Get(name)
	if err != nil {
		return nil, fmt.Errorf("sink plugin %s: %w", name, err)
	}
	for _, action := range []string{ActionRange, ActionSet} {
		if !p.Supports(action) {
			return nil, fmt.Errorf("sink plugin %s does not support %s", name, action)
		}
	}
	return &PluginSink{role: role, plugin: p, executor: exec}, nil
}

// Range asks the plugin for the accepted value range.
func (s *PluginSink) Range() (float64, float64, error) {
	var out struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	}
	req := &plugin.Request{Action: ActionRange, Role: s.role}
	if err := s.executor.Call(context.Background(), s.plugin, req, &out); err != nil {
		return 0, 0, err
	}
	if out.Min == nil || out.Max == nil {
		return 0, 0, fmt.Errorf("plugin %s: range response missing min or max", s.plugin.Manifest.Name)
	}
	return *out.Min, *out.Max, nil
}

// Current asks the plugin for the live value, if it supports reading it.
func (s *PluginSink) Current() (float64, error) {
	if !s.plugin.Supports(ActionGet) {
		return 0, fmt.Errorf("plugin %s cannot report its value", s.plugin.Manifest.Name)
	}
	var out struct {
		Value float64 `json:"value"`
	}
	req := &plugin.Request{Action: ActionGet, Role: s.role}
	if err := s.executor.Call(context.Background(), s.plugin, req, &out); err != nil {
		return 0, err
	}
	s.remember(out.Value)
	return out.Value, nil
}

// SetValue sends v to the plugin unless it rounds to the value the plugin
// already holds. Failed writes are not remembered.
func (s *PluginSink) SetValue(v float64) error {
	s.mu.Lock()
	unchanged := s.known && math.Round(v) == s.applied
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	params, err := json.Marshal(map[string]float64{"value": v})
	if err != nil {
		return err
	}
	req := &plugin.Request{Action: ActionSet, Role: s.role, Params: params}
	if err := s.executor.Call(context.Background(), s.plugin, req, nil); err != nil {
		return err
	}
	s.remember(v)
	return nil
}

func (s *PluginSink) remember(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = math.Round(v)
	s.known = true
}

// Memory is an in-process sink that stores the last value. It stands in
// for the system volume in headless runs and tests.
type Memory struct {
	mu       sync.Mutex
	min, max float64
	value    float64
	writes   int
	err      error
}

// NewMemory returns a Memory sink accepting [min, max], holding min.
func NewMemory(min, max float64) *Memory {
	return &Memory{min: min, max: max, value: min}
}

// Range returns the configured range.
func (m *Memory) Range() (float64, float64, error) {
	return m.min, m.max, nil
}

// SetValue stores v. Values outside the range are rejected, mirroring a
// real audio endpoint.
func (m *Memory) SetValue(v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.err != nil {
		return m.err
	}
	if v < m.min || v > m.max {
		return fmt.Errorf("value %v outside [%v, %v]", v, m.min, m.max)
	}
	m.value = v
	return nil
}

// Value returns the last accepted value.
func (m *Memory) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Writes returns how many times SetValue was called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailWith makes subsequent SetValue calls return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
