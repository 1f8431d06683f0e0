// Package app runs the capture, detection and control pipeline.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinesis/internal/capture"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/render"
	"github.com/ayusman/kinesis/internal/store"
)

// Default pacing.
const (
	DefaultIdleFPS   = 5
	DefaultActiveFPS = 30
	DefaultCooldown  = 2 * time.Second
)

// SinkResolver returns the sink for a persisted role binding. It is only
// called for bindings that name a sink.
type SinkResolver func(b *store.RoleBinding) (control.Sink, error)

// FeedbackPublisher receives the feedback of every processed frame.
type FeedbackPublisher interface {
	Publish(feedback []control.Feedback)
}

// FrameSink receives every rendered frame.
type FrameSink interface {
	PutFrame(mat *gocv.Mat) error
}

// Config wires the pipeline's collaborators. Store, Publisher, Frames
// and Overlay are optional.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	Store    *store.Store
	// Law is used unless the store holds a saved law.
	Law control.Law
	// Roles is used when no store is configured.
	Roles []control.Role
	// Resolve builds sinks for stored bindings.
	Resolve SinkResolver

	MotionThreshold float64
	Cooldown        time.Duration
	IdleFPS         int
	ActiveFPS       int
	// DisablePacing runs detection on every frame at ActiveFPS.
	DisablePacing bool

	Overlay   *render.Overlay
	Publisher FeedbackPublisher
	Frames    FrameSink
}

// App owns the pipeline goroutine and the router it drives.
type App struct {
	config   Config
	activity *capture.ActivityMonitor

	// router is only touched by the pipeline goroutine, or by the caller
	// of Load and ProcessFrame when the pipeline is not running.
	router *control.Router

	// reload asks the frame loop to rebuild the router before its next frame.
	reload atomic.Bool

	mu       sync.RWMutex
	enabled  bool
	snapshot Snapshot
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates an App. It starts enabled.
func New(config Config) *App {
	if config.Law == (control.Law{}) {
		config.Law = control.DefaultLaw()
	}
	if config.IdleFPS <= 0 {
		config.IdleFPS = DefaultIdleFPS
	}
	if config.ActiveFPS <= 0 {
		config.ActiveFPS = DefaultActiveFPS
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}

	a := &App{
		config:   config,
		activity: capture.NewActivityMonitor(config.MotionThreshold, config.Cooldown),
		enabled:  true,
	}
	a.snapshot = Snapshot{Enabled: true, Pace: capture.PaceIdle}
	if config.DisablePacing {
		a.snapshot.Pace = capture.PaceActive
	}
	return a
}

// Load builds the router from the store (or Config.Roles) and restores
// persisted values. Start calls it; tests may call it directly.
func (a *App) Load() error {
	law, err := a.loadLaw()
	if err != nil {
		return err
	}

	roles, err := a.loadRoles()
	if err != nil {
		return err
	}

	router, err := control.NewRouter(law, roles)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	a.restoreStates(router)
	a.router = router

	a.mu.Lock()
	a.snapshot.Roles = roleSnapshots(router)
	a.mu.Unlock()

	log.Printf("Loaded %d roles (distance %.0f..%.0f px, alpha %.2f)", len(roles), law.Input.Low, law.Input.High, law.Alpha)
	return nil
}

func (a *App) loadLaw() (control.Law, error) {
	if a.config.Store == nil {
		return a.config.Law, nil
	}
	law, err := a.config.Store.Settings().Law()
	if errors.Is(err, store.ErrNotFound) {
		return a.config.Law, nil
	}
	if err != nil {
		return control.Law{}, fmt.Errorf("load control law: %w", err)
	}
	return law, nil
}

func (a *App) loadRoles() ([]control.Role, error) {
	if a.config.Store == nil {
		return a.config.Roles, nil
	}

	bindings, err := a.config.Store.Roles().List()
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	roles := make([]control.Role, 0, len(bindings))
	for _, b := range bindings {
		role := control.Role{
			Name:       b.Name,
			Handedness: detector.Handedness(b.Handedness),
			Gated:      b.Gated,
			Output:     control.Range{Low: b.OutLow, High: b.OutHigh},
		}
		if b.Sink != "" {
			if a.config.Resolve == nil {
				return nil, fmt.Errorf("role %s: no resolver for sink %s", b.Name, b.Sink)
			}
			sink, err := a.config.Resolve(b)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", b.Name, err)
			}
			role.Sink = sink
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// valueReader is a sink that can report the value it currently holds.
type valueReader interface {
	Current() (float64, error)
}

// restoreStates seeds each role from its saved value when the saved range
// still matches, otherwise from the sink's live value when it can report
// one. Roles with neither start at Min.
func (a *App) restoreStates(router *control.Router) {
	restored := make(map[string]bool)

	if a.config.Store != nil {
		saved, err := a.config.Store.States().List()
		if err != nil {
			log.Printf("Failed to load saved control states: %v", err)
		}
		for _, st := range saved {
			cur, ok := router.State(st.Role)
			if !ok {
				continue
			}
			if cur.Min != st.Min || cur.Max != st.Max {
				log.Printf("Ignoring saved %s value: range changed from %v..%v to %v..%v", st.Role, st.Min, st.Max, cur.Min, cur.Max)
				continue
			}
			if err := router.Restore(st.Role, st.Value); err != nil {
				log.Printf("Failed to restore %s: %v", st.Role, err)
				continue
			}
			restored[st.Role] = true
		}
	}

	for _, role := range router.Roles() {
		if restored[role.Name] {
			continue
		}
		reader, ok := role.Sink.(valueReader)
		if !ok {
			continue
		}
		v, err := reader.Current()
		if err != nil {
			log.Printf("Failed to read live %s value: %v", role.Name, err)
			continue
		}
		if err := router.Restore(role.Name, v); err != nil {
			log.Printf("Failed to seed %s from its sink: %v", role.Name, err)
		}
	}
}

// SaveStates persists every role's current value.
func (a *App) SaveStates() error {
	if a.config.Store == nil || a.router == nil {
		return nil
	}
	states := a.router.States()
	rows := make([]store.ControlState, 0, len(states))
	for name, st := range states {
		rows = append(rows, store.ControlState{Role: name, Value: st.Value, Min: st.Min, Max: st.Max})
	}
	return a.config.Store.States().Save(rows...)
}

// Reload rebuilds the role table and control law from the store before
// the next processed frame. Values are saved first so unchanged roles keep
// them. Safe to call from any goroutine.
func (a *App) Reload() {
	a.reload.Store(true)
}

// applyReload runs on the frame loop. A failed rebuild keeps the previous
// router.
func (a *App) applyReload() {
	if err := a.SaveStates(); err != nil {
		log.Printf("Failed to save control states before reload: %v", err)
	}
	if err := a.Load(); err != nil {
		log.Printf("Failed to reload roles, keeping the previous configuration: %v", err)
	}
}

// SetEnabled pauses or resumes processing. A disabled app reads no
// frames, so every value holds.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.snapshot.Enabled = enabled
	a.mu.Unlock()

	if a.config.Store != nil {
		if err := a.config.Store.Settings().SetEnabled(enabled); err != nil {
			log.Printf("Failed to persist enabled flag: %v", err)
		}
	}
	log.Printf("Control enabled: %v", enabled)
}

// IsEnabled reports whether processing is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Start loads the router, opens the camera and starts the pipeline.
func (a *App) Start() error {
	a.mu.Lock()
	running := a.stopCh != nil
	a.mu.Unlock()
	if running {
		return nil
	}
	if a.config.Camera == nil || a.config.Detector == nil {
		return errors.New("app needs a camera and a detector")
	}

	a.reload.Store(false)
	if err := a.Load(); err != nil {
		return err
	}

	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	a.activity.Reset()
	pace := capture.PaceIdle
	if a.config.DisablePacing {
		pace = capture.PaceActive
	}
	a.config.Camera.SetFPS(a.fps(pace))

	a.mu.Lock()
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.snapshot.Running = true
	a.snapshot.Pace = pace
	stop, done := a.stopCh, a.doneCh
	a.mu.Unlock()

	go a.runPipeline(stop, done, pace)

	log.Println("Control pipeline started")
	return nil
}

// Stop halts the pipeline, saves control values and releases the camera.
func (a *App) Stop() {
	a.mu.Lock()
	stop, done := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.snapshot.Running = false
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	if err := a.SaveStates(); err != nil {
		log.Printf("Failed to save control states: %v", err)
	}

	if err := a.config.Camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	log.Println("Control pipeline stopped")
}

// Close stops the pipeline and releases the detector.
func (a *App) Close() {
	a.Stop()
	a.activity.Close()
	if a.config.Detector != nil {
		if err := a.config.Detector.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
		}
	}
}

// Router returns the router built by Load, or nil.
func (a *App) Router() *control.Router {
	return a.router
}

func (a *App) fps(p capture.Pace) int {
	if p == capture.PaceActive {
		return a.config.ActiveFPS
	}
	return a.config.IdleFPS
}
