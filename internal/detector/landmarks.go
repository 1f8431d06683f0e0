// Package detector provides hand detection interfaces and landmark types.
package detector

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// MaxHands is the largest number of hands a single frame may carry.
const MaxHands = 2

// ErrInvalidInput is returned when a hand or frame violates the detector contract.
var ErrInvalidInput = errors.New("invalid input")

// Handedness is the detector's classification of a hand.
type Handedness string

const (
	Left  Handedness = "Left"
	Right Handedness = "Right"
)

// Valid reports whether h is one of the known labels.
func (h Handedness) Valid() bool {
	return h == Left || h == Right
}

// Point3D represents a normalized landmark. X and Y are in [0,1] relative to
// the frame width and height; Z is relative depth and is carried as-is.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pixel denormalizes the point into frame pixel space.
func (p Point3D) Pixel(width, height int) (float64, float64) {
	return p.X * float64(width), p.Y * float64(height)
}

// HandLandmarks is one detected hand.
type HandLandmarks struct {
	Points     []Point3D  `json:"points"`
	Handedness Handedness `json:"handedness"`
	Score      float64    `json:"score"`
}

// Validate checks the landmark count, the handedness label and that every
// X and Y coordinate is finite.
func (h *HandLandmarks) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil hand", ErrInvalidInput)
	}
	if len(h.Points) != NumLandmarks {
		return fmt.Errorf("%w: hand has %d landmarks, want %d", ErrInvalidInput, len(h.Points), NumLandmarks)
	}
	if h.Handedness == "" {
		return fmt.Errorf("%w: missing handedness label", ErrInvalidInput)
	}
	if !h.Handedness.Valid() {
		return fmt.Errorf("%w: unknown handedness %q", ErrInvalidInput, h.Handedness)
	}
	for i, p := range h.Points {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: landmark %d is not finite", ErrInvalidInput, i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// PixelPoint returns landmark i in integer pixel coordinates, for drawing.
func (h *HandLandmarks) PixelPoint(i, width, height int) image.Point {
	x, y := h.Points[i].Pixel(width, height)
	return image.Point{X: int(x), Y: int(y)}
}

// Frame is the detector output for one video frame.
type Frame struct {
	Hands  []HandLandmarks `json:"hands"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
}

// Validate checks the frame size and every hand it carries.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidInput, f.Width, f.Height)
	}
	if len(f.Hands) > MaxHands {
		return fmt.Errorf("%w: %d hands in frame, max %d", ErrInvalidInput, len(f.Hands), MaxHands)
	}
	for i := range f.Hands {
		if err := f.Hands[i].Validate(); err != nil {
			return fmt.Errorf("hand %d: %w", i, err)
		}
	}
	return nil
}
