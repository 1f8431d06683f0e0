package app

import (
	"errors"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinesis/internal/capture"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
)

// FrameReport describes what ProcessFrame did with one frame.
type FrameReport struct {
	Activity capture.Activity
	// Detected is false when the frame was skipped for pacing.
	Detected bool
	Results  []control.Result
	// Err is a detector or input error; the frame was dropped.
	Err error
}

// runPipeline reads frames at the current pace until stop is closed.
func (a *App) runPipeline(stop <-chan struct{}, done chan<- struct{}, pace capture.Pace) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(a.fps(pace)))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !a.IsEnabled() {
			continue
		}

		frame, err := a.config.Camera.ReadFrame()
		if err != nil {
			log.Printf("Error reading frame: %v", err)
			continue
		}

		report := a.ProcessFrame(frame, time.Now())
		frame.Close()

		if report.Activity.Changed {
			fps := a.fps(report.Activity.Pace)
			a.config.Camera.SetFPS(fps)
			ticker.Reset(time.Second / time.Duration(fps))
			log.Printf("Switched to %s mode (%d fps)", report.Activity.Pace, fps)
		}
	}
}

// ProcessFrame runs one frame through activity tracking, detection, the
// router and the overlay, then publishes the result. Load must have been
// called. The overlay is drawn onto frame in place.
//
// It must only be called from one goroutine at a time.
func (a *App) ProcessFrame(frame *gocv.Mat, now time.Time) FrameReport {
	var report FrameReport

	if a.router != nil && a.reload.CompareAndSwap(true, false) {
		a.applyReload()
	}

	if a.config.DisablePacing {
		report.Activity = capture.Activity{Pace: capture.PaceActive}
	} else {
		report.Activity = a.activity.Observe(frame, now)
	}

	if report.Activity.Pace == capture.PaceActive && a.router != nil {
		report.Detected = true
		report.Results, report.Err = a.detect(frame)
		if !a.config.DisablePacing && steering(report.Results) {
			a.activity.Hold(now)
		}
	}

	a.publish(report, now)

	if a.config.Overlay != nil {
		a.config.Overlay.Draw(frame, report.Results)
	}
	if a.config.Frames != nil {
		if err := a.config.Frames.PutFrame(frame); err != nil {
			log.Printf("Error publishing frame: %v", err)
		}
	}

	return report
}

// steering reports whether any role was unlocked this frame.
func steering(results []control.Result) bool {
	for _, r := range results {
		if r.Gate == control.GateActive {
			return true
		}
	}
	return false
}

// detect runs the detector and router. Sink failures are logged and do
// not fail the frame.
func (a *App) detect(frame *gocv.Mat) ([]control.Result, error) {
	f, err := detector.DetectFrame(a.config.Detector, frame)
	if err != nil {
		log.Printf("Error detecting hands: %v", err)
		return nil, err
	}

	results, err := a.router.Process(f)
	if err != nil {
		if errors.Is(err, detector.ErrInvalidInput) {
			log.Printf("Dropping frame: %v", err)
		} else {
			log.Printf("Error processing frame: %v", err)
		}
		return nil, err
	}

	for _, r := range results {
		if r.SinkErr != nil {
			log.Printf("Sink error: %v", r.SinkErr)
		}
	}
	return results, nil
}

// publish updates the snapshot and forwards feedback.
func (a *App) publish(report FrameReport, now time.Time) {
	feedback := make([]control.Feedback, 0, len(report.Results))
	for _, r := range report.Results {
		feedback = append(feedback, r.Feedback)
	}

	a.mu.Lock()
	a.snapshot.Pace = report.Activity.Pace
	a.snapshot.Frames++
	if report.Err != nil {
		a.snapshot.Dropped++
	}
	if report.Detected {
		a.snapshot.Feedback = feedback
		a.snapshot.Roles = roleSnapshots(a.router)
	} else {
		a.snapshot.Feedback = nil
	}
	a.snapshot.UpdatedAt = now
	a.mu.Unlock()

	if a.config.Publisher != nil && report.Detected {
		a.config.Publisher.Publish(feedback)
	}
}
