package capture

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrames is returned by MockCamera once a non-looping sequence is exhausted.
var ErrNoFrames = errors.New("no more frames")

// MockCamera plays back a fixed frame sequence.
type MockCamera struct {
	frames []*gocv.Mat
	index  int
	loop   bool
	fps    int
	open   bool
	mu     sync.Mutex
}

// NewMockCamera plays frames in order, starting over when loop is set.
// The camera does not take ownership of frames.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop, fps: DefaultFPS}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// ReadFrame returns a clone of the next frame.
func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 {
		return nil, ErrNoFrames
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoFrames
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// SetFrames replaces the sequence and rewinds.
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// SolidFrame returns a BGR frame of the given size filled with c.
// The caller owns the Mat.
func SolidFrame(width, height int, c color.RGBA) gocv.Mat {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
	return mat
}

// SquareFrame returns a black frame with a white square of side size at
// origin, useful for simulating movement between frames.
func SquareFrame(width, height int, origin image.Point, size int) gocv.Mat {
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	rect := image.Rect(origin.X, origin.Y, origin.X+size, origin.Y+size)
	gocv.Rectangle(&mat, rect, color.RGBA{255, 255, 255, 0}, -1)
	return mat
}
