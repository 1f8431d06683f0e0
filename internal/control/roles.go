package control

import (
	"fmt"

	"github.com/ayusman/kinesis/internal/detector"
)

// Built-in role names.
const (
	RoleVolume = "volume"
	RoleSpeed  = "speed"
)

// Sink receives control values for a role, e.g. the system audio volume.
type Sink interface {
	// Range reports the values the sink accepts. It is queried once when
	// the router is built.
	Range() (min, max float64, err error)
	// SetValue applies v. Failures are reported but never retried.
	SetValue(v float64) error
}

// Role binds a handedness label to a control.
type Role struct {
	Name       string
	Handedness detector.Handedness
	// Gated roles only update while the auxiliary finger is folded.
	Gated bool
	// Sink receives the smoothed value after each update. A nil sink makes
	// the role display-only.
	Sink Sink
	// Output is the value range used when Sink is nil.
	Output Range
}

// Validate checks the role's name and handedness.
func (r Role) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("role name is required")
	}
	if !r.Handedness.Valid() {
		return fmt.Errorf("role %s: unknown handedness %q", r.Name, r.Handedness)
	}
	return nil
}

// DefaultRoles returns the stock role table: the right hand drives volume,
// the left hand drives a display-only playback speed control.
func DefaultRoles(volume Sink) []Role {
	return []Role{
		{
			Name:       RoleVolume,
			Handedness: detector.Right,
			Gated:      true,
			Sink:       volume,
		},
		{
			Name:       RoleSpeed,
			Handedness: detector.Left,
			Gated:      true,
			Output:     Range{Low: 0.5, High: 2.0},
		},
	}
}
