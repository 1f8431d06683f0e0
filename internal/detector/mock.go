package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It returns queued results in order, then repeats the configured hands.
type MockDetector struct {
	mu    sync.Mutex
	hands []HandLandmarks
	queue [][]HandLandmarks
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// Enqueue appends one frame's worth of hands to be returned before the
// configured hands.
func (m *MockDetector) Enqueue(hands ...HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, hands)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next queued hands, the configured hands, or the error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// OpenHandLandmarks returns an open hand with all fingers extended upward,
// wrist near the bottom of the frame.
func OpenHandLandmarks(handedness Handedness) HandLandmarks {
	points := []Point3D{
		Wrist: {X: 0.50, Y: 0.80},

		ThumbCMC: {X: 0.55, Y: 0.75, Z: 0.02},
		ThumbMCP: {X: 0.62, Y: 0.70, Z: 0.03},
		ThumbIP:  {X: 0.68, Y: 0.65, Z: 0.03},
		ThumbTip: {X: 0.73, Y: 0.60, Z: 0.03},

		IndexMCP: {X: 0.55, Y: 0.68},
		IndexPIP: {X: 0.57, Y: 0.55},
		IndexDIP: {X: 0.58, Y: 0.45},
		IndexTip: {X: 0.58, Y: 0.35},

		MiddleMCP: {X: 0.50, Y: 0.66},
		MiddlePIP: {X: 0.50, Y: 0.52},
		MiddleDIP: {X: 0.50, Y: 0.40},
		MiddleTip: {X: 0.50, Y: 0.28},

		RingMCP: {X: 0.45, Y: 0.68},
		RingPIP: {X: 0.43, Y: 0.55},
		RingDIP: {X: 0.42, Y: 0.45},
		RingTip: {X: 0.42, Y: 0.35},

		PinkyMCP: {X: 0.40, Y: 0.70},
		PinkyPIP: {X: 0.37, Y: 0.60},
		PinkyDIP: {X: 0.35, Y: 0.50},
		PinkyTip: {X: 0.34, Y: 0.42},
	}

	return HandLandmarks{
		Points:     points,
		Handedness: handedness,
		Score:      0.95,
	}
}

// PinchLandmarks returns an open hand whose index tip sits distancePx pixels
// to the right of the thumb tip in a width x height frame. When pinkyFolded
// is set the pinky tip is curled below its knuckle.
func PinchLandmarks(handedness Handedness, distancePx float64, pinkyFolded bool, width, height int) HandLandmarks {
	hand := OpenHandLandmarks(handedness)

	thumb := Point3D{X: 0.30, Y: 0.50}
	hand.Points[ThumbTip] = thumb
	hand.Points[IndexTip] = Point3D{X: thumb.X + distancePx/float64(width), Y: thumb.Y}

	if pinkyFolded {
		hand.Points[PinkyPIP] = Point3D{X: 0.38, Y: 0.72}
		hand.Points[PinkyDIP] = Point3D{X: 0.39, Y: 0.76}
		hand.Points[PinkyTip] = Point3D{X: 0.41, Y: 0.78}
	}

	return hand
}
