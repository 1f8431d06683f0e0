package capture

import (
	"image"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestActivityMonitor_StartsIdle(t *testing.T) {
	m := NewActivityMonitor(0.01, time.Second)
	defer m.Close()

	if m.Pace() != PaceIdle {
		t.Errorf("initial Pace() = %s, want idle", m.Pace())
	}

	frame := SquareFrame(320, 240, image.Pt(10, 10), 50)
	defer frame.Close()

	act := m.Observe(&frame, time.Now())
	if act.Pace != PaceIdle || act.Changed || act.Motion != 0 {
		t.Errorf("baseline frame produced %+v", act)
	}
}

func TestActivityMonitor_NoMotion(t *testing.T) {
	m := NewActivityMonitor(0.01, time.Second)
	defer m.Close()

	frame := SquareFrame(320, 240, image.Pt(10, 10), 50)
	defer frame.Close()

	now := time.Now()
	m.Observe(&frame, now)
	act := m.Observe(&frame, now.Add(100*time.Millisecond))

	if act.Pace != PaceIdle {
		t.Errorf("identical frames gave pace %s", act.Pace)
	}
	if act.Motion != 0 {
		t.Errorf("Motion = %f, want 0", act.Motion)
	}
}

func TestActivityMonitor_MotionAndCooldown(t *testing.T) {
	m := NewActivityMonitor(0.01, 2*time.Second)
	defer m.Close()

	a := SquareFrame(320, 240, image.Pt(10, 10), 80)
	defer a.Close()
	b := SquareFrame(320, 240, image.Pt(200, 120), 80)
	defer b.Close()

	start := time.Now()
	m.Observe(&a, start)

	act := m.Observe(&b, start.Add(100*time.Millisecond))
	if act.Pace != PaceActive || !act.Changed {
		t.Fatalf("moving square gave %+v, want active change", act)
	}
	if act.Motion <= 0.01 {
		t.Errorf("Motion = %f, want above threshold", act.Motion)
	}

	// Still inside cooldown.
	act = m.Observe(&b, start.Add(time.Second))
	if act.Pace != PaceActive || act.Changed {
		t.Errorf("within cooldown gave %+v", act)
	}

	act = m.Observe(&b, start.Add(3*time.Second))
	if act.Pace != PaceIdle || !act.Changed {
		t.Errorf("after cooldown gave %+v, want idle change", act)
	}
}

func TestActivityMonitor_HoldExtendsCooldown(t *testing.T) {
	m := NewActivityMonitor(0.01, 2*time.Second)
	defer m.Close()

	a := SquareFrame(320, 240, image.Pt(10, 10), 80)
	defer a.Close()
	b := SquareFrame(320, 240, image.Pt(200, 120), 80)
	defer b.Close()

	start := time.Now()

	// Idle monitors ignore Hold.
	m.Hold(start)
	if m.Pace() != PaceIdle {
		t.Fatalf("Hold() activated an idle monitor")
	}

	m.Observe(&a, start)
	if act := m.Observe(&b, start.Add(100*time.Millisecond)); act.Pace != PaceActive {
		t.Fatalf("moving square gave %+v, want active", act)
	}

	m.Hold(start.Add(1500 * time.Millisecond))

	// Past the original cooldown but within the held one.
	if act := m.Observe(&b, start.Add(3*time.Second)); act.Pace != PaceActive || act.Changed {
		t.Errorf("held monitor gave %+v, want still active", act)
	}

	if act := m.Observe(&b, start.Add(4*time.Second)); act.Pace != PaceIdle || !act.Changed {
		t.Errorf("after held cooldown gave %+v, want idle change", act)
	}
}

func TestActivityMonitor_SizeChangeResetsBaseline(t *testing.T) {
	m := NewActivityMonitor(0.01, time.Second)
	defer m.Close()

	small := SquareFrame(160, 120, image.Pt(0, 0), 40)
	defer small.Close()
	large := SquareFrame(320, 240, image.Pt(100, 100), 40)
	defer large.Close()

	now := time.Now()
	m.Observe(&small, now)
	if act := m.Observe(&large, now); act.Motion != 0 {
		t.Errorf("size change should rebaseline, got motion %f", act.Motion)
	}
}

func TestActivityMonitor_EmptyFrameAndReset(t *testing.T) {
	m := NewActivityMonitor(0.01, time.Second)
	defer m.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	if act := m.Observe(&empty, time.Now()); act.Motion != 0 || act.Pace != PaceIdle {
		t.Errorf("empty frame gave %+v", act)
	}
	if act := m.Observe(nil, time.Now()); act.Motion != 0 {
		t.Errorf("nil frame gave %+v", act)
	}

	a := SquareFrame(320, 240, image.Pt(10, 10), 80)
	defer a.Close()
	b := SquareFrame(320, 240, image.Pt(200, 120), 80)
	defer b.Close()
	now := time.Now()
	m.Observe(&a, now)
	m.Observe(&b, now)

	m.Reset()
	if m.Pace() != PaceIdle {
		t.Errorf("Pace() after Reset = %s, want idle", m.Pace())
	}
	if act := m.Observe(&a, now); act.Motion != 0 {
		t.Errorf("first frame after Reset should be baseline, got %f", act.Motion)
	}
}
