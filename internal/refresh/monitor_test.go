package refresh

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_VisibilityTransitions(t *testing.T) {
	m := NewMonitor(true)
	var fired atomic.Int32
	m.OnVisible(func() { fired.Add(1) })

	m.SetVisible(true) // already visible: no transition
	if fired.Load() != 0 {
		t.Fatalf("fired = %d on a non-transition", fired.Load())
	}

	m.SetVisible(false)
	if fired.Load() != 0 {
		t.Fatalf("fired = %d on hide", fired.Load())
	}

	m.SetVisible(true)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d on show, want 1", fired.Load())
	}
}

func TestMonitor_FocusIgnoredWhileHidden(t *testing.T) {
	m := NewMonitor(false)
	var fired atomic.Int32
	m.OnVisible(func() { fired.Add(1) })

	m.Focus()
	if fired.Load() != 0 {
		t.Fatalf("focus while hidden fired %d times", fired.Load())
	}

	m.SetVisible(true)
	m.Focus()
	if fired.Load() != 2 {
		t.Errorf("fired = %d, want 2 (show + focus)", fired.Load())
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(true)
	var fired atomic.Int32
	cancel := m.OnVisible(func() { fired.Add(1) })
	cancel()
	m.Focus()
	if fired.Load() != 0 {
		t.Errorf("unsubscribed callback fired")
	}
}

func TestAutoRefresh_OnlyWhileVisible(t *testing.T) {
	m := NewMonitor(false)
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		AutoRefresh(ctx, m, 5*time.Millisecond, func() { ticks.Add(1) })
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	if ticks.Load() != 0 {
		t.Fatalf("ticked %d times while hidden", ticks.Load())
	}

	m.SetVisible(true)
	deadline := time.Now().Add(time.Second)
	for ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ticks.Load() == 0 {
		t.Fatal("no tick while visible")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AutoRefresh did not stop")
	}
}

func TestAutoRefresh_HiddenTicksDoNotAccumulate(t *testing.T) {
	m := NewMonitor(false)
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go AutoRefresh(ctx, m, 10*time.Millisecond, func() { ticks.Add(1) })

	// Many periods pass while hidden.
	time.Sleep(100 * time.Millisecond)
	m.SetVisible(true)
	time.Sleep(15 * time.Millisecond)

	if got := ticks.Load(); got > 2 {
		t.Errorf("ticks right after becoming visible = %d, hidden periods were replayed", got)
	}
}
