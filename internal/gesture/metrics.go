// Package gesture derives scalar control measurements from hand landmarks.
package gesture

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/kinesis/internal/detector"
)

// Point is a location in frame pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Metrics holds the measurements taken from one hand in one frame.
type Metrics struct {
	// PinchDistance is the thumb tip to index tip distance in pixels.
	PinchDistance float64 `json:"pinch_distance"`
	// AuxFolded is true when the pinky tip sits below its base knuckle,
	// i.e. the pinky is curled into the palm.
	AuxFolded bool `json:"aux_folded"`

	ThumbTip Point `json:"thumb_tip"`
	IndexTip Point `json:"index_tip"`
	Midpoint Point `json:"midpoint"`
}

// Measure computes Metrics for hand in a width x height frame.
// The hand must carry exactly 21 landmarks and a known handedness label.
func Measure(hand *detector.HandLandmarks, width, height int) (Metrics, error) {
	if err := hand.Validate(); err != nil {
		return Metrics{}, err
	}
	if width <= 0 || height <= 0 {
		return Metrics{}, fmt.Errorf("%w: frame size %dx%d", detector.ErrInvalidInput, width, height)
	}

	thumb := pixel(hand.Points[detector.ThumbTip], width, height)
	index := pixel(hand.Points[detector.IndexTip], width, height)

	// Image y grows downward.
	folded := hand.Points[detector.PinkyTip].Y > hand.Points[detector.PinkyMCP].Y

	return Metrics{
		PinchDistance: floats.Distance([]float64{thumb.X, thumb.Y}, []float64{index.X, index.Y}, 2),
		AuxFolded:     folded,
		ThumbTip:      thumb,
		IndexTip:      index,
		Midpoint: Point{
			X: (thumb.X + index.X) / 2,
			Y: (thumb.Y + index.Y) / 2,
		},
	}, nil
}

func pixel(p detector.Point3D, width, height int) Point {
	x, y := p.Pixel(width, height)
	return Point{X: x, Y: y}
}
