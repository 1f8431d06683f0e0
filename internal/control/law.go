// Package control maps gesture measurements to smoothed, gated control values.
//
// The package is single-threaded: a Router and the State and Gate values it
// owns must only be driven from one goroutine, one frame at a time. The
// smoothing filter is order-sensitive, so states are never shared between
// roles.
package control

import (
	"errors"
	"fmt"
	"math"
)

// Default control law parameters.
const (
	// DefaultLowDistance is the pinch distance in pixels that maps to the
	// bottom of the output range.
	DefaultLowDistance = 30.0
	// DefaultHighDistance is the pinch distance in pixels that maps to the
	// top of the output range.
	DefaultHighDistance = 200.0
	// DefaultAlpha is the exponential smoothing factor.
	DefaultAlpha = 0.1
)

// ErrInvalidLaw is returned when control law parameters are unusable.
var ErrInvalidLaw = errors.New("invalid control law")

// Range is a closed interval. Low may be greater than High, in which case
// interpolation onto it is reversed.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Clamp restricts x to the interval.
func (r Range) Clamp(x float64) float64 {
	lo, hi := r.Low, r.High
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, x))
}

// Contains reports whether x lies within the interval.
func (r Range) Contains(x float64) bool {
	return r.Clamp(x) == x
}

// Span returns High - Low.
func (r Range) Span() float64 {
	return r.High - r.Low
}

// Interpolate clamps x to in and maps it linearly onto out.
// Values outside in map to the nearest end of out; nothing is extrapolated.
func Interpolate(x float64, in, out Range) float64 {
	if in.Span() == 0 {
		if x <= in.Low {
			return out.Low
		}
		return out.High
	}

	t := (in.Clamp(x) - in.Low) / in.Span()
	return out.Clamp(out.Low + t*out.Span())
}

// Smooth moves current toward target by the fraction alpha.
func Smooth(current, target, alpha float64) float64 {
	return current + alpha*(target-current)
}

// State is the persistent control value of one role.
type State struct {
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// NewState returns a state for the output range [min, max], starting at min.
func NewState(min, max float64) (*State, error) {
	if math.IsNaN(min) || math.IsNaN(max) || min > max {
		return nil, fmt.Errorf("%w: output range [%v, %v]", ErrInvalidLaw, min, max)
	}
	return &State{Value: min, Min: min, Max: max}, nil
}

// Output returns the state's output range.
func (s State) Output() Range {
	return Range{Low: s.Min, High: s.Max}
}

// Level returns the value as a percentage of the output range.
func (s State) Level() float64 {
	return Interpolate(s.Value, s.Output(), Range{Low: 0, High: 100})
}

// Law converts pinch distances into control values.
type Law struct {
	Input Range   `json:"input"`
	Alpha float64 `json:"alpha"`
}

// DefaultLaw returns the law with the default distance range and smoothing.
func DefaultLaw() Law {
	return Law{
		Input: Range{Low: DefaultLowDistance, High: DefaultHighDistance},
		Alpha: DefaultAlpha,
	}
}

// Validate checks that the distance range is increasing and alpha is in (0, 1].
func (l Law) Validate() error {
	if !(l.Input.Low < l.Input.High) {
		return fmt.Errorf("%w: distance range [%v, %v] must be increasing", ErrInvalidLaw, l.Input.Low, l.Input.High)
	}
	if !(l.Alpha > 0 && l.Alpha <= 1) {
		return fmt.Errorf("%w: alpha %v must be in (0, 1]", ErrInvalidLaw, l.Alpha)
	}
	return nil
}

// Target maps distance onto the state's output range.
func (l Law) Target(s State, distance float64) float64 {
	return Interpolate(distance, l.Input, s.Output())
}

// Update advances the smoothing filter one step toward the target for
// distance and returns the new value. Each call moves the value; calling
// it twice in a frame moves it twice.
func (l Law) Update(s *State, distance float64) float64 {
	s.Value = s.Output().Clamp(Smooth(s.Value, l.Target(*s, distance), l.Alpha))
	return s.Value
}
