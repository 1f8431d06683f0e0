package app

import (
	"slices"
	"time"

	"github.com/ayusman/kinesis/internal/capture"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
)

// RoleSnapshot is one role's value as of the last processed frame.
type RoleSnapshot struct {
	Role       string              `json:"role"`
	Handedness detector.Handedness `json:"handedness"`
	Gate       control.GateState   `json:"gate"`
	Value      float64             `json:"value"`
	Min        float64             `json:"min"`
	Max        float64             `json:"max"`
	Level      float64             `json:"level"`
}

// Snapshot is a copy of the pipeline state safe to read from any goroutine.
type Snapshot struct {
	Enabled bool           `json:"enabled"`
	Running bool           `json:"running"`
	Pace    capture.Pace   `json:"pace"`
	Roles   []RoleSnapshot `json:"roles"`

	// Feedback holds the last frame's per-hand feedback; empty when no
	// bound hand was seen.
	Feedback  []control.Feedback `json:"feedback"`
	Frames    uint64             `json:"frames"`
	Dropped   uint64             `json:"dropped"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Snapshot returns the latest published state.
func (a *App) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.snapshot
	s.Roles = slices.Clone(s.Roles)
	s.Feedback = slices.Clone(s.Feedback)
	return s
}

// Role returns the snapshot of one role.
func (s Snapshot) Role(name string) (RoleSnapshot, bool) {
	for _, r := range s.Roles {
		if r.Role == name {
			return r, true
		}
	}
	return RoleSnapshot{}, false
}

func roleSnapshots(r *control.Router) []RoleSnapshot {
	roles := r.Roles()
	out := make([]RoleSnapshot, 0, len(roles))
	for _, role := range roles {
		st, _ := r.State(role.Name)
		gate, _ := r.GateState(role.Name)
		out = append(out, RoleSnapshot{
			Role:       role.Name,
			Handedness: role.Handedness,
			Gate:       gate,
			Value:      st.Value,
			Min:        st.Min,
			Max:        st.Max,
			Level:      st.Level(),
		})
	}
	return out
}
