package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestInactivityTimerFiresOnce(t *testing.T) {
	timer := NewInactivityTimer()
	var fired atomic.Int32
	done := make(chan struct{})

	timer.Start("u1", 20*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})
	if !timer.Active("u1") {
		t.Fatal("timer should be active after Start")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("expected one callback, got %d", fired.Load())
	}
	if timer.Active("u1") {
		t.Error("fired timer should no longer be active")
	}
}

func TestInactivityTimerStop(t *testing.T) {
	timer := NewInactivityTimer()
	var fired atomic.Bool

	timer.Start("u1", 30*time.Millisecond, func() { fired.Store(true) })
	if !timer.Stop("u1") {
		t.Fatal("Stop should report an armed timer")
	}
	if timer.Stop("u1") {
		t.Error("second Stop should report nothing armed")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestInactivityTimerRestartReplacesCallback(t *testing.T) {
	timer := NewInactivityTimer()
	var first, second atomic.Int32

	timer.Start("u1", 20*time.Millisecond, func() { first.Add(1) })
	timer.Restart("u1", 60*time.Millisecond, func() { second.Add(1) })

	time.Sleep(40 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced callback ran")
	}
	if left := timer.Remaining("u1"); left <= 0 || left > 60*time.Millisecond {
		t.Errorf("unexpected remaining time %v", left)
	}

	deadline := time.Now().Add(time.Second)
	for second.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if second.Load() != 1 || first.Load() != 0 {
		t.Errorf("callbacks ran first=%d second=%d", first.Load(), second.Load())
	}
}

func TestInactivityTimerStopAll(t *testing.T) {
	timer := NewInactivityTimer()
	var fired atomic.Int32
	for _, u := range []string{"u1", "u2", "u3"} {
		timer.Start(u, 20*time.Millisecond, func() { fired.Add(1) })
	}
	timer.StopAll()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("expected no callbacks after StopAll, got %d", fired.Load())
	}
	if timer.Active("u2") || timer.Remaining("u2") != 0 {
		t.Error("no timer should remain after StopAll")
	}
}
