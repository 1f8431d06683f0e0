package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// streamInterval paces MJPEG writes, ~15 FPS.
const streamInterval = 66 * time.Millisecond

// FrameBuffer holds the latest rendered frame as JPEG.
type FrameBuffer struct {
	jpeg []byte
	seq  uint64
	mu   sync.RWMutex
}

// NewFrameBuffer creates an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// PutFrame encodes mat and replaces the current frame.
func (b *FrameBuffer) PutFrame(mat *gocv.Mat) error {
	if mat == nil || mat.Empty() {
		return nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	b.mu.Lock()
	b.jpeg = data
	b.seq++
	b.mu.Unlock()
	return nil
}

// Latest returns the current JPEG and its sequence number. The sequence
// is zero until the first frame arrives.
func (b *FrameBuffer) Latest() ([]byte, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.jpeg, b.seq
}

// StreamHandler serves the frame buffer as MJPEG.
type StreamHandler struct {
	frames *FrameBuffer
}

// NewStreamHandler creates a StreamHandler reading from frames.
func NewStreamHandler(frames *FrameBuffer) *StreamHandler {
	return &StreamHandler{frames: frames}
}

// ServeHTTP writes each new frame as one multipart part until the client
// goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var last uint64
	for {
		if data, seq := h.frames.Latest(); seq != last {
			last = seq
			if err := writePart(w, data); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
