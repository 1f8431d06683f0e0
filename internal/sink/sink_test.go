package sink

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/plugin"
)

var (
	_ control.Sink = (*Memory)(nil)
	_ control.Sink = (*PluginSink)(nil)
)

// installPlugin writes a script plugin with a manifest into dir and returns
// a manager that has discovered it.
func installPlugin(t *testing.T, script string, actions ...string) *plugin.Manager {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "fake-volume")
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}

	manifest, _ := json.Marshal(plugin.Manifest{
		Name:       "fake-volume",
		Executable: "run.sh",
		Actions:    actions,
	})
	if err := os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFile), manifest, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, "run.sh"), []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	mgr := plugin.NewManager(dir)
	if err := mgr.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	return mgr
}

// dispatchScript answers each action and records volume-set requests in log.
func dispatchScript(log string) string {
	return `#!/bin/sh
INPUT=$(cat)
case "$INPUT" in
  *volume-range*) echo '{"success":true,"data":{"min":0,"max":100}}' ;;
  *volume-get*) echo '{"success":true,"data":{"value":35}}' ;;
  *volume-set*) echo "$INPUT" >> ` + log + `; echo '{"success":true}' ;;
  *) echo '{"success":false,"error":"unknown action"}' ;;
esac
`
}

func TestPluginSink(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "set.log")
	mgr := installPlugin(t, dispatchScript(logPath), ActionRange, ActionGet, ActionSet)

	s, err := NewPluginSink(mgr, plugin.NewExecutor(5*time.Second), "fake-volume", control.RoleVolume)
	if err != nil {
		t.Fatalf("NewPluginSink() error = %v", err)
	}

	min, max, err := s.Range()
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if min != 0 || max != 100 {
		t.Errorf("Range() = %v, %v; want 0, 100", min, max)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur != 35 {
		t.Errorf("Current() = %v, want 35", cur)
	}

	if err := s.SetValue(42.5); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var req plugin.Request
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(logged))), &req); err != nil {
		t.Fatalf("decode logged request %q: %v", logged, err)
	}
	if req.Role != control.RoleVolume {
		t.Errorf("role = %q, want %q", req.Role, control.RoleVolume)
	}
	var params struct {
		Value float64 `json:"value"`
	}
	json.Unmarshal(req.Params, &params)
	if params.Value != 42.5 {
		t.Errorf("value = %v, want 42.5", params.Value)
	}
}

// setCount returns how many volume-set requests reached the plugin.
func setCount(t *testing.T, logPath string) int {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Count(string(data), "\n")
}

func TestPluginSink_SkipsUnchangedWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "set.log")
	mgr := installPlugin(t, dispatchScript(logPath), ActionRange, ActionGet, ActionSet)

	s, err := NewPluginSink(mgr, plugin.NewExecutor(5*time.Second), "fake-volume", control.RoleVolume)
	if err != nil {
		t.Fatalf("NewPluginSink() error = %v", err)
	}

	// A held pinch converges on a value; every frame writes nearly the same.
	for _, v := range []float64{41.6, 41.9, 42.2, 42.4, 42.4, 42.49} {
		if err := s.SetValue(v); err != nil {
			t.Fatalf("SetValue(%v) error = %v", v, err)
		}
	}
	if n := setCount(t, logPath); n != 1 {
		t.Errorf("plugin called %d times for one whole value, want 1", n)
	}

	if err := s.SetValue(43.1); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if n := setCount(t, logPath); n != 2 {
		t.Errorf("plugin called %d times after a change, want 2", n)
	}

	// The live value counts as applied.
	if _, err := s.Current(); err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if err := s.SetValue(35.2); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if n := setCount(t, logPath); n != 2 {
		t.Errorf("plugin called %d times for the current value, want 2", n)
	}
}

func TestPluginSink_MissingActions(t *testing.T) {
	mgr := installPlugin(t, "#!/bin/sh\n", ActionGet)

	if _, err := NewPluginSink(mgr, plugin.NewExecutor(time.Second), "fake-volume", "volume"); err == nil {
		t.Error("expected error for plugin without range/set actions")
	}
	if _, err := NewPluginSink(mgr, plugin.NewExecutor(time.Second), "missing", "volume"); !errors.Is(err, plugin.ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestPluginSink_SetFailure(t *testing.T) {
	mgr := installPlugin(t, `#!/bin/sh
INPUT=$(cat)
case "$INPUT" in
  *volume-range*) echo '{"success":true,"data":{"min":0,"max":100}}' ;;
  *) echo '{"success":false,"error":"device unplugged"}' ;;
esac
`, ActionRange, ActionSet)

	s, err := NewPluginSink(mgr, plugin.NewExecutor(5*time.Second), "fake-volume", "volume")
	if err != nil {
		t.Fatalf("NewPluginSink() error = %v", err)
	}

	err = s.SetValue(10)
	if err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Errorf("SetValue() error = %v, want plugin error", err)
	}
	// A failed write is not remembered, so the same value is sent again.
	if err := s.SetValue(10); err == nil {
		t.Error("repeated SetValue() after a failure should reach the plugin")
	}
	if _, err := s.Current(); err == nil {
		t.Error("Current() should fail when volume-get is not supported")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory(0, 100)

	if v := m.Value(); v != 0 {
		t.Errorf("initial Value() = %v, want 0", v)
	}

	if err := m.SetValue(55); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if v := m.Value(); v != 55 {
		t.Errorf("Value() = %v, want 55", v)
	}

	if err := m.SetValue(101); err == nil {
		t.Error("expected out-of-range error")
	}
	if v := m.Value(); v != 55 {
		t.Errorf("rejected write changed value to %v", v)
	}

	m.FailWith(errors.New("busy"))
	if err := m.SetValue(10); err == nil {
		t.Error("expected injected error")
	}
	m.FailWith(nil)
	if err := m.SetValue(10); err != nil {
		t.Errorf("SetValue() after recovery error = %v", err)
	}

	if m.Writes() != 4 {
		t.Errorf("Writes() = %d, want 4", m.Writes())
	}
}
