package app

import (
	"errors"
	"image"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinesis/internal/capture"
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/render"
	"github.com/ayusman/kinesis/internal/sink"
	"github.com/ayusman/kinesis/internal/store"
)

const (
	frameW = 640
	frameH = 480
)

type recordingPublisher struct {
	mu     sync.Mutex
	frames [][]control.Feedback
}

func (p *recordingPublisher) Publish(f []control.Feedback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

type countingFrames struct {
	mu sync.Mutex
	n  int
}

func (f *countingFrames) PutFrame(*gocv.Mat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return nil
}

type fixture struct {
	store  *store.Store
	volume *sink.Memory
	det    *detector.MockDetector
	pub    *recordingPublisher
	frames *countingFrames
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.Roles().EnsureDefaults(DefaultBindings("memory")); err != nil {
		t.Fatalf("EnsureDefaults() error = %v", err)
	}

	return &fixture{
		store:  s,
		volume: sink.NewMemory(0, 100),
		det:    detector.NewMockDetector(),
		pub:    &recordingPublisher{},
		frames: &countingFrames{},
	}
}

func (f *fixture) config() Config {
	return Config{
		Detector: f.det,
		Store:    f.store,
		Resolve: func(b *store.RoleBinding) (control.Sink, error) {
			if b.Sink != "memory" {
				return nil, errors.New("unknown sink " + b.Sink)
			}
			return f.volume, nil
		},
		DisablePacing: true,
		Overlay:       render.NewOverlay(render.DefaultPalette()),
		Publisher:     f.pub,
		Frames:        f.frames,
	}
}

func (f *fixture) newApp(t *testing.T) *App {
	t.Helper()
	a := New(f.config())
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return a
}

func blank() gocv.Mat {
	return gocv.NewMatWithSize(frameH, frameW, gocv.MatTypeCV8UC3)
}

func pinch(h detector.Handedness, d float64, folded bool) detector.HandLandmarks {
	return detector.PinchLandmarks(h, d, folded, frameW, frameH)
}

func TestApp_ActiveRightHandConvergesVolume(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	const n = 10
	for i := 0; i < n; i++ {
		f.det.Enqueue(pinch(detector.Right, 200, true))
		mat := blank()
		report := a.ProcessFrame(&mat, time.Now())
		mat.Close()

		if !report.Detected || report.Err != nil {
			t.Fatalf("frame %d: report %+v", i, report)
		}
	}

	want := 100 * (1 - math.Pow(0.9, n))
	if got := f.volume.Value(); math.Abs(got-want) > 1e-6 {
		t.Errorf("sink value = %v, want %v", got, want)
	}
	if f.volume.Writes() != n {
		t.Errorf("sink writes = %d, want %d", f.volume.Writes(), n)
	}

	snap := a.Snapshot()
	vol, ok := snap.Role(control.RoleVolume)
	if !ok {
		t.Fatal("snapshot has no volume role")
	}
	if math.Abs(vol.Value-want) > 1e-6 || vol.Gate != control.GateActive {
		t.Errorf("volume snapshot = %+v", vol)
	}
	if snap.Frames != n || len(snap.Feedback) != 1 {
		t.Errorf("snapshot frames=%d feedback=%d", snap.Frames, len(snap.Feedback))
	}
	if f.pub.count() != n || f.frames.n != n {
		t.Errorf("published %d feedback frames and %d images, want %d", f.pub.count(), f.frames.n, n)
	}
}

func TestApp_LockedHandHoldsVolume(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	for i := 0; i < 5; i++ {
		f.det.Enqueue(pinch(detector.Right, 200, false))
		mat := blank()
		a.ProcessFrame(&mat, time.Now())
		mat.Close()
	}

	if f.volume.Writes() != 0 {
		t.Errorf("locked gate wrote to sink %d times", f.volume.Writes())
	}
	vol, _ := a.Snapshot().Role(control.RoleVolume)
	if vol.Value != 0 || vol.Gate != control.GateLocked {
		t.Errorf("volume snapshot = %+v, want locked at 0", vol)
	}

	fb := a.Snapshot().Feedback
	if len(fb) != 1 || fb[0].Color != control.ColorLocked || fb[0].Percent != 100 {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestApp_LeftHandNeverDrivesSink(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	for i := 0; i < 5; i++ {
		f.det.Enqueue(pinch(detector.Left, 200, true))
		mat := blank()
		a.ProcessFrame(&mat, time.Now())
		mat.Close()
	}

	if f.volume.Writes() != 0 {
		t.Errorf("left hand wrote to volume sink %d times", f.volume.Writes())
	}
	speed, _ := a.Snapshot().Role(control.RoleSpeed)
	if speed.Value <= 0.5 {
		t.Errorf("speed value = %v, want above its minimum", speed.Value)
	}
}

func TestApp_InvalidFrameDropped(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	bad := pinch(detector.Right, 200, true)
	bad.Points = bad.Points[:20]
	f.det.Enqueue(bad)

	mat := blank()
	defer mat.Close()
	report := a.ProcessFrame(&mat, time.Now())

	if !errors.Is(report.Err, detector.ErrInvalidInput) {
		t.Errorf("report.Err = %v, want ErrInvalidInput", report.Err)
	}
	if f.volume.Writes() != 0 {
		t.Error("invalid frame reached the sink")
	}
	if snap := a.Snapshot(); snap.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", snap.Dropped)
	}
}

func TestApp_SinkFailureKeepsValue(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	f.volume.FailWith(errors.New("device unplugged"))
	f.det.Enqueue(pinch(detector.Right, 200, true))

	mat := blank()
	defer mat.Close()
	report := a.ProcessFrame(&mat, time.Now())

	if report.Err != nil {
		t.Fatalf("sink failure should not fail the frame: %v", report.Err)
	}
	if len(report.Results) != 1 || report.Results[0].SinkErr == nil {
		t.Fatalf("expected SinkErr on the volume result, got %+v", report.Results)
	}

	vol, _ := a.Snapshot().Role(control.RoleVolume)
	if math.Abs(vol.Value-10) > 1e-9 {
		t.Errorf("value = %v, want 10 kept after failed write", vol.Value)
	}
	if f.volume.Value() != 0 {
		t.Errorf("sink value = %v, want untouched 0", f.volume.Value())
	}
}

func TestApp_NoHandsHoldsValues(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	f.det.Enqueue(pinch(detector.Right, 200, true))
	mat := blank()
	a.ProcessFrame(&mat, time.Now())
	mat.Close()

	before, _ := a.Snapshot().Role(control.RoleVolume)
	for i := 0; i < 3; i++ {
		mat := blank()
		a.ProcessFrame(&mat, time.Now())
		mat.Close()
	}
	after, _ := a.Snapshot().Role(control.RoleVolume)

	if before.Value != after.Value {
		t.Errorf("value moved without hands: %v -> %v", before.Value, after.Value)
	}
	if len(a.Snapshot().Feedback) != 0 {
		t.Error("feedback should be empty without hands")
	}
}

func TestApp_PersistAndRestore(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	for i := 0; i < 5; i++ {
		f.det.Enqueue(pinch(detector.Right, 115, true))
		mat := blank()
		a.ProcessFrame(&mat, time.Now())
		mat.Close()
	}
	saved, _ := a.Router().State(control.RoleVolume)
	if err := a.SaveStates(); err != nil {
		t.Fatalf("SaveStates() error = %v", err)
	}

	restored := f.newApp(t)
	st, _ := restored.Router().State(control.RoleVolume)
	if st.Value != saved.Value {
		t.Errorf("restored value = %v, want %v", st.Value, saved.Value)
	}
	if f.volume.Writes() != 5 {
		t.Errorf("restore should not drive the sink, writes = %d", f.volume.Writes())
	}
}

func TestApp_RestoreSkipsChangedRange(t *testing.T) {
	f := newFixture(t)
	if err := f.store.States().Save(store.ControlState{Role: control.RoleSpeed, Value: 7, Min: 0, Max: 10}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	a := f.newApp(t)
	st, _ := a.Router().State(control.RoleSpeed)
	if st.Value != 0.5 {
		t.Errorf("speed = %v, want its minimum since the saved range differs", st.Value)
	}
}

// liveSink is a memory sink that can report a live value.
type liveSink struct {
	*sink.Memory
	live  float64
	err   error
	reads int
}

func (s *liveSink) Current() (float64, error) {
	s.reads++
	return s.live, s.err
}

func TestApp_SeedsFromLiveSinkValue(t *testing.T) {
	f := newFixture(t)
	live := &liveSink{Memory: sink.NewMemory(0, 100), live: 35}

	cfg := f.config()
	cfg.Resolve = func(*store.RoleBinding) (control.Sink, error) { return live, nil }
	a := New(cfg)
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	st, _ := a.Router().State(control.RoleVolume)
	if st.Value != 35 {
		t.Errorf("volume = %v, want live value 35", st.Value)
	}
	if live.Writes() != 0 {
		t.Errorf("seeding should not drive the sink, writes = %d", live.Writes())
	}

	// The first active frame moves from the live value, not from Min.
	f.det.Enqueue(pinch(detector.Right, 200, true))
	mat := blank()
	defer mat.Close()
	a.ProcessFrame(&mat, time.Now())
	if got, want := live.Value(), 35+0.1*(100-35); math.Abs(got-want) > 1e-9 {
		t.Errorf("sink value = %v, want %v", got, want)
	}
}

func TestApp_SavedValueWinsOverLiveValue(t *testing.T) {
	f := newFixture(t)
	if err := f.store.States().Save(store.ControlState{Role: control.RoleVolume, Value: 70, Min: 0, Max: 100}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	live := &liveSink{Memory: sink.NewMemory(0, 100), live: 35}

	cfg := f.config()
	cfg.Resolve = func(*store.RoleBinding) (control.Sink, error) { return live, nil }
	a := New(cfg)
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	st, _ := a.Router().State(control.RoleVolume)
	if st.Value != 70 {
		t.Errorf("volume = %v, want saved 70", st.Value)
	}
	if live.reads != 0 {
		t.Errorf("live value read %d times despite a saved value", live.reads)
	}
}

func TestApp_LiveValueErrorKeepsMin(t *testing.T) {
	f := newFixture(t)
	live := &liveSink{Memory: sink.NewMemory(0, 100), err: errors.New("no device")}

	cfg := f.config()
	cfg.Resolve = func(*store.RoleBinding) (control.Sink, error) { return live, nil }
	a := New(cfg)
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if st, _ := a.Router().State(control.RoleVolume); st.Value != 0 {
		t.Errorf("volume = %v, want Min 0", st.Value)
	}
}

func TestApp_LoadUsesSavedLaw(t *testing.T) {
	f := newFixture(t)
	law := control.Law{Input: control.Range{Low: 10, High: 110}, Alpha: 1}
	if err := f.store.Settings().SetLaw(law); err != nil {
		t.Fatalf("SetLaw() error = %v", err)
	}

	a := f.newApp(t)
	if a.Router().Law() != law {
		t.Errorf("router law = %+v, want %+v", a.Router().Law(), law)
	}

	f.det.Enqueue(pinch(detector.Right, 60, true))
	mat := blank()
	defer mat.Close()
	a.ProcessFrame(&mat, time.Now())

	if got := f.volume.Value(); math.Abs(got-50) > 1e-6 {
		t.Errorf("alpha 1 should jump straight to target 50, got %v", got)
	}
}

func TestApp_LoadErrors(t *testing.T) {
	f := newFixture(t)

	cfg := f.config()
	cfg.Resolve = nil
	if err := New(cfg).Load(); err == nil {
		t.Error("Load() without resolver should fail for a role with a sink")
	}

	cfg = f.config()
	cfg.Resolve = func(*store.RoleBinding) (control.Sink, error) { return nil, errors.New("boom") }
	if err := New(cfg).Load(); err == nil {
		t.Error("Load() should surface resolver errors")
	}
}

func TestApp_WithoutStoreUsesConfiguredRoles(t *testing.T) {
	volume := sink.NewMemory(0, 100)
	det := detector.NewMockDetector()
	a := New(Config{
		Detector:      det,
		Roles:         control.DefaultRoles(volume),
		DisablePacing: true,
	})
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	det.Enqueue(pinch(detector.Right, 20, true))
	mat := blank()
	defer mat.Close()
	report := a.ProcessFrame(&mat, time.Now())

	if len(report.Results) != 1 || !report.Results[0].Feedback.Click {
		t.Errorf("report = %+v, want one clicking result", report)
	}
	if volume.Writes() != 1 {
		t.Errorf("writes = %d, want 1", volume.Writes())
	}
}

func TestApp_IdleFramesSkipDetection(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.DisablePacing = false
	cfg.MotionThreshold = 0.01
	a := New(cfg)
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	f.det.SetHands([]detector.HandLandmarks{pinch(detector.Right, 200, true)})

	still := capture.SquareFrame(frameW, frameH, image.Pt(50, 50), 100)
	defer still.Close()

	now := time.Now()
	for i := 0; i < 3; i++ {
		frame := still.Clone()
		report := a.ProcessFrame(&frame, now)
		frame.Close()
		if report.Detected {
			t.Fatalf("frame %d detected while idle", i)
		}
	}
	if f.det.Calls() != 0 {
		t.Errorf("detector called %d times while idle", f.det.Calls())
	}

	moved := capture.SquareFrame(frameW, frameH, image.Pt(400, 300), 100)
	defer moved.Close()
	report := a.ProcessFrame(&moved, now)
	if !report.Detected || report.Activity.Pace != capture.PaceActive || !report.Activity.Changed {
		t.Errorf("motion should activate detection, got %+v", report.Activity)
	}
	if f.volume.Writes() != 1 {
		t.Errorf("writes = %d, want 1", f.volume.Writes())
	}
}

func TestApp_ActiveGateKeepsActivePace(t *testing.T) {
	f := newFixture(t)
	cfg := f.config()
	cfg.DisablePacing = false
	cfg.MotionThreshold = 0.01
	cfg.Cooldown = 2 * time.Second
	a := New(cfg)
	if err := a.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// A pinch held perfectly still with the pinky folded.
	f.det.SetHands([]detector.HandLandmarks{pinch(detector.Right, 200, true)})

	first := capture.SquareFrame(frameW, frameH, image.Pt(50, 50), 100)
	defer first.Close()
	still := capture.SquareFrame(frameW, frameH, image.Pt(400, 300), 100)
	defer still.Close()

	start := time.Now()
	a.ProcessFrame(&first, start)

	// Motion activates; afterwards the frame never changes again.
	for i := 0; i < 10; i++ {
		frame := still.Clone()
		report := a.ProcessFrame(&frame, start.Add(time.Duration(i+1)*time.Second))
		frame.Close()
		if !report.Detected {
			t.Fatalf("frame %d at %ds went idle while the gate was active", i, i+1)
		}
	}

	want := 100 * (1 - math.Pow(0.9, 10))
	if got := f.volume.Value(); math.Abs(got-want) > 1e-6 {
		t.Errorf("volume = %v, want %v after 10 active frames", got, want)
	}

	// Once the pinky is released the pace falls back to idle after the cooldown.
	f.det.SetHands([]detector.HandLandmarks{pinch(detector.Right, 200, false)})
	frame := still.Clone()
	a.ProcessFrame(&frame, start.Add(11*time.Second))
	frame.Close()

	frame = still.Clone()
	report := a.ProcessFrame(&frame, start.Add(14*time.Second))
	frame.Close()
	if report.Detected || report.Activity.Pace != capture.PaceIdle {
		t.Errorf("locked still hand should go idle, got %+v", report.Activity)
	}
}

func TestApp_ReloadAppliesEditsOnNextFrame(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)

	for i := 0; i < 2; i++ {
		f.det.Enqueue(pinch(detector.Right, 200, true))
		mat := blank()
		a.ProcessFrame(&mat, time.Now())
		mat.Close()
	}

	law := control.Law{Input: control.Range{Low: 10, High: 110}, Alpha: 1}
	if err := f.store.Settings().SetLaw(law); err != nil {
		t.Fatalf("SetLaw() error = %v", err)
	}
	speed, err := f.store.Roles().GetByName(control.RoleSpeed)
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	speed.OutLow, speed.OutHigh = 1, 3
	if err := f.store.Roles().Update(speed); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	a.Reload()
	if a.Router().Law() == law {
		t.Fatal("router rebuilt before the next frame")
	}

	// A frame without hands picks up the edits and keeps the volume.
	mat := blank()
	a.ProcessFrame(&mat, time.Now())
	mat.Close()

	if a.Router().Law() != law {
		t.Errorf("router law = %+v, want %+v", a.Router().Law(), law)
	}
	if st, _ := a.Router().State(control.RoleVolume); math.Abs(st.Value-19) > 1e-9 {
		t.Errorf("volume = %v after reload, want 19", st.Value)
	}
	if st, _ := a.Router().State(control.RoleSpeed); st.Min != 1 || st.Max != 3 || st.Value != 1 {
		t.Errorf("speed state = %+v, want 1..3 starting at 1", st)
	}
	if snap, _ := a.Snapshot().Role(control.RoleSpeed); snap.Max != 3 {
		t.Errorf("snapshot speed max = %v, want 3", snap.Max)
	}

	f.det.Enqueue(pinch(detector.Right, 60, true))
	mat = blank()
	defer mat.Close()
	a.ProcessFrame(&mat, time.Now())
	if got := f.volume.Value(); math.Abs(got-50) > 1e-6 {
		t.Errorf("volume = %v, want 50 under the reloaded law", got)
	}
}

func TestApp_ReloadFailureKeepsRouter(t *testing.T) {
	f := newFixture(t)
	a := f.newApp(t)
	before := a.Router()

	if err := f.store.Settings().Set(store.SettingControlLaw, "not json"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	a.Reload()
	mat := blank()
	defer mat.Close()
	a.ProcessFrame(&mat, time.Now())

	if a.Router() != before {
		t.Error("failed reload replaced the router")
	}
}

func TestApp_SetEnabledPersists(t *testing.T) {
	f := newFixture(t)
	a := New(f.config())

	a.SetEnabled(false)
	if a.IsEnabled() || a.Snapshot().Enabled {
		t.Error("app still enabled")
	}
	if on, _ := f.store.Settings().Enabled(); on {
		t.Error("disabled flag not persisted")
	}
}

func TestApp_StartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test")
	}

	f := newFixture(t)
	frame := blank()
	defer frame.Close()

	cfg := f.config()
	cfg.Camera = capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	cfg.ActiveFPS = 50
	f.det.SetHands([]detector.HandLandmarks{pinch(detector.Right, 200, true)})

	a := New(cfg)
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for a.Snapshot().Frames < 5 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !a.Snapshot().Running {
		t.Error("snapshot should report running")
	}

	a.Stop()
	a.Stop()

	if a.Snapshot().Frames < 5 {
		t.Fatalf("pipeline processed %d frames", a.Snapshot().Frames)
	}
	if cfg.Camera.IsOpen() {
		t.Error("camera left open after Stop()")
	}
	saved, err := f.store.States().Get(control.RoleVolume)
	if err != nil {
		t.Fatalf("states not saved on Stop(): %v", err)
	}
	if saved.Value <= 0 {
		t.Errorf("saved volume = %v, want above 0", saved.Value)
	}
}

func TestApp_StartRequiresCollaborators(t *testing.T) {
	if err := New(Config{}).Start(); err == nil {
		t.Error("Start() without camera and detector should fail")
	}
}
