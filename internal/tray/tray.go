// Package tray provides the system tray menu: an enable toggle and live
// role status.
package tray

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/kinesis/internal/detector"
)

// RoleStatus is one role's line in the menu.
type RoleStatus struct {
	Name  string
	Level float64
	Gate  string
}

// Status is what the tray displays.
type Status struct {
	Enabled bool
	Roles   []RoleStatus
}

// FormatRole renders a role line, e.g. "Volume 42% · active".
func FormatRole(r RoleStatus) string {
	name := r.Name
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return fmt.Sprintf("%s %d%% · %s", name, int(math.Round(r.Level)), r.Gate)
}

// FormatTitle renders the menu bar title. The first role's level is shown
// while enabled.
func FormatTitle(s Status) string {
	if !s.Enabled {
		return "Kinesis ○"
	}
	if len(s.Roles) == 0 {
		return "Kinesis"
	}
	return fmt.Sprintf("Kinesis %d%%", int(math.Round(s.Roles[0].Level)))
}

// idleRole fills role lines with no status yet.
const idleRole = "No role"

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Disabled"
}

// Tray is the system tray application.
type Tray struct {
	onToggle   func(enabled bool)
	onSettings func()
	onQuit     func()
	enabled    bool
	status     Status
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuRoles  []*systray.MenuItem
}

// New creates a Tray, enabled by default.
func New() *Tray {
	return &Tray{
		enabled: true,
		status:  Status{Enabled: true},
	}
}

// OnToggle sets the callback run when the user flips the enable toggle.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback run when the settings item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback run when the quit item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It must be called from the main goroutine and
// blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Kinesis")
	systray.SetTooltip("Kinesis gesture control")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle gesture control")
	systray.AddSeparator()

	// One line per possible hand.
	t.menuRoles = make([]*systray.MenuItem, detector.MaxHands)
	for i := range t.menuRoles {
		t.menuRoles[i] = systray.AddMenuItem(idleRole, "Role status")
		t.menuRoles[i].Disable()
	}
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Kinesis")

	t.render()

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	t.status.Enabled = t.enabled
	enabled := t.enabled
	callback := t.onToggle
	t.mu.Unlock()

	t.render()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the displayed status, e.g. from a polling loop.
func (t *Tray) SetStatus(s Status) {
	t.mu.Lock()
	t.enabled = s.Enabled
	t.status = s
	t.mu.Unlock()

	t.render()
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// render pushes the current status to the menu once it exists.
func (t *Tray) render() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuToggle == nil {
		return
	}

	systray.SetTitle(FormatTitle(t.status))
	t.menuToggle.SetTitle(toggleTitle(t.enabled))
	for i, item := range t.menuRoles {
		if i < len(t.status.Roles) {
			item.SetTitle(FormatRole(t.status.Roles[i]))
		} else {
			item.SetTitle(idleRole)
		}
	}
}
