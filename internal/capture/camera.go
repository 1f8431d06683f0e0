// Package capture reads camera frames and tracks scene activity using GoCV.
package capture

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings.
const (
	DefaultFPS    = 5
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera is a frame source.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Options configures a device camera.
type Options struct {
	DeviceID int
	// Mirror flips frames horizontally so the image reads like a mirror
	// and on-screen left matches the user's left.
	Mirror bool
	Size   image.Point
}

// deviceCamera captures from a local video device.
type deviceCamera struct {
	opts    Options
	capture *gocv.VideoCapture
	mu      sync.Mutex
	fps     int
}

// NewCamera returns a Camera for the given device. A zero Size means
// DefaultWidth x DefaultHeight.
func NewCamera(opts Options) Camera {
	if opts.Size.X <= 0 || opts.Size.Y <= 0 {
		opts.Size = image.Pt(DefaultWidth, DefaultHeight)
	}
	return &deviceCamera{opts: opts, fps: DefaultFPS}
}

// Open opens the device and requests the configured resolution.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.opts.DeviceID)
	if err != nil {
		return err
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Size.X))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Size.Y))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	return nil
}

// Close releases the device.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *deviceCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}
	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	if c.opts.Mirror {
		Mirror(&mat)
	}
	return &mat, nil
}

// SetFPS changes the capture rate. Values <= 0 are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *deviceCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// Mirror flips mat around its vertical axis in place.
func Mirror(mat *gocv.Mat) {
	if mat == nil || mat.Empty() {
		return
	}
	gocv.Flip(*mat, mat, 1)
}
