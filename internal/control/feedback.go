package control

import (
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/gesture"
)

// ColorState selects the renderer palette for a role.
type ColorState string

const (
	ColorActive ColorState = "active"
	ColorLocked ColorState = "locked"
)

var (
	percentRange = Range{Low: 0, High: 100}
	arcRange     = Range{Low: 0, High: 360}
)

// Feedback is everything a renderer needs to draw one role's state.
// It is serialized verbatim to websocket clients.
type Feedback struct {
	Role       string              `json:"role"`
	Handedness detector.Handedness `json:"handedness"`

	// Percent and ArcDegrees follow the raw pinch distance, not the
	// smoothed value.
	Percent    float64 `json:"percent"`
	ArcDegrees float64 `json:"arc_degrees"`
	// Click is set while the pinch is closer than the low end of the
	// distance range, regardless of the gate.
	Click bool `json:"click"`

	// Level is the smoothed value as 0-100 of the role's output range.
	Level float64 `json:"level"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`

	Gate  GateState  `json:"gate"`
	Color ColorState `json:"color"`

	PinchDistance float64       `json:"pinch_distance"`
	ThumbTip      gesture.Point `json:"thumb_tip"`
	IndexTip      gesture.Point `json:"index_tip"`
	Midpoint      gesture.Point `json:"midpoint"`
}

// ComputeFeedback derives the feedback payload for one role. It has no side
// effects.
func ComputeFeedback(law Law, s State, m gesture.Metrics, gate GateState) Feedback {
	color := ColorLocked
	if gate == GateActive {
		color = ColorActive
	}

	return Feedback{
		Percent:       Interpolate(m.PinchDistance, law.Input, percentRange),
		ArcDegrees:    Interpolate(m.PinchDistance, law.Input, arcRange),
		Click:         m.PinchDistance < law.Input.Low,
		Level:         s.Level(),
		Value:         s.Value,
		Min:           s.Min,
		Max:           s.Max,
		Gate:          gate,
		Color:         color,
		PinchDistance: m.PinchDistance,
		ThumbTip:      m.ThumbTip,
		IndexTip:      m.IndexTip,
		Midpoint:      m.Midpoint,
	}
}
