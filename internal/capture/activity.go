package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame differencing parameters.
const (
	// BlurSize is the Gaussian kernel applied before differencing.
	BlurSize = 21
	// DiffThreshold is the per-pixel intensity change counted as motion.
	DiffThreshold = 25
)

// Pace is the pipeline's frame pacing mode.
type Pace string

const (
	PaceIdle   Pace = "idle"
	PaceActive Pace = "active"
)

// Activity is the result of observing one frame.
type Activity struct {
	Pace Pace
	// Changed is set on the frame where the pace switched.
	Changed bool
	// Motion is the fraction of pixels that changed since the previous frame.
	Motion float64
}

// ActivityMonitor switches between idle and active pacing. Motion above
// the threshold makes it active; it returns to idle after cooldown
// without motion.
type ActivityMonitor struct {
	threshold  float64
	cooldown   time.Duration
	prevGray   gocv.Mat
	hasPrev    bool
	pace       Pace
	lastMotion time.Time
	mu         sync.Mutex
}

// NewActivityMonitor returns a monitor starting idle. threshold is a
// fraction in [0, 1] of pixels that must change.
func NewActivityMonitor(threshold float64, cooldown time.Duration) *ActivityMonitor {
	return &ActivityMonitor{
		threshold: threshold,
		cooldown:  cooldown,
		prevGray:  gocv.NewMat(),
		pace:      PaceIdle,
	}
}

// Observe compares frame with the previous one and updates the pace.
// The first frame only establishes a baseline.
func (m *ActivityMonitor) Observe(frame *gocv.Mat, now time.Time) Activity {
	m.mu.Lock()
	defer m.mu.Unlock()

	motion := m.motion(frame)

	prev := m.pace
	if motion > m.threshold {
		m.lastMotion = now
		m.pace = PaceActive
	} else if m.pace == PaceActive && now.Sub(m.lastMotion) > m.cooldown {
		m.pace = PaceIdle
	}

	return Activity{Pace: m.pace, Changed: m.pace != prev, Motion: motion}
}

// Hold restarts the cooldown of an active monitor as if motion were seen
// at now, so a still hand that is steering a control keeps the active
// pace. It does nothing while idle.
func (m *ActivityMonitor) Hold(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pace == PaceActive && now.After(m.lastMotion) {
		m.lastMotion = now
	}
}

// motion returns the changed-pixel fraction against the stored baseline
// and replaces the baseline with frame.
func (m *ActivityMonitor) motion(frame *gocv.Mat) float64 {
	if frame == nil || frame.Empty() {
		return 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(BlurSize, BlurSize), 0, 0, gocv.BorderDefault)

	if !m.hasPrev || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.hasPrev = true
		return 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols())
	blurred.CopyTo(&m.prevGray)
	return changed
}

// Pace returns the current pacing mode.
func (m *ActivityMonitor) Pace() Pace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pace
}

// Reset drops the baseline and returns to idle.
func (m *ActivityMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasPrev = false
	m.pace = PaceIdle
}

// Close releases the baseline frame.
func (m *ActivityMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevGray.Close()
	m.hasPrev = false
}
