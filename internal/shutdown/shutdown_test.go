package shutdown

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/aesdsocket/internal/testutil/testlog"
)

type fakeSource struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	stopped bool
}

func (f *fakeSource) Notify(ch chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = ch
}

func (f *fakeSource) Stop(chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) send(sig os.Signal) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- sig
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown was not triggered")
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	testlog.Start(t)
	c := New()
	if c.Context().Err() != nil {
		t.Fatalf("cancelled before trigger")
	}
	if !c.Trigger("first") {
		t.Fatalf("first trigger should fire")
	}
	if c.Trigger("second") {
		t.Fatalf("second trigger should not fire")
	}
	waitDone(t, c)
	if c.Reason() != "first" {
		t.Fatalf("reason = %q", c.Reason())
	}
	if c.Context().Err() == nil {
		t.Fatalf("context not cancelled")
	}
}

func TestShutdownHooksRunOnce(t *testing.T) {
	testlog.Start(t)
	c := New()
	var order []string
	c.OnShutdown(func() {
		if c.Context().Err() == nil {
			t.Errorf("hook ran before the context was cancelled")
		}
		order = append(order, "first")
	})
	c.OnShutdown(func() { order = append(order, "second") })

	c.Trigger("one")
	c.Trigger("two")
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hooks ran %v, want [first second]", order)
	}
}

func TestOnShutdownAfterTriggerRunsImmediately(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Trigger("early")

	ran := 0
	c.OnShutdown(func() { ran++ })
	if ran != 1 {
		t.Fatalf("late hook ran %d times, want 1", ran)
	}
	c.Trigger("again")
	if ran != 1 {
		t.Fatalf("late hook ran again on a second trigger")
	}
}

func TestWatchSignalsDoubleDeliveryTriggersOnce(t *testing.T) {
	testlog.Start(t)
	c := New()
	var interrupts atomic.Int32
	context.AfterFunc(c.Context(), func() { interrupts.Add(1) })
	var hooks atomic.Int32
	c.OnShutdown(func() { hooks.Add(1) })

	src := &fakeSource{}
	stop := c.WatchSignals(src)
	src.send(syscall.SIGTERM)
	src.send(syscall.SIGINT)
	waitDone(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for interrupts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	stop()
	stop()
	if got := interrupts.Load(); got != 1 {
		t.Fatalf("cancellation observed %d times, want 1", got)
	}
	if got := hooks.Load(); got != 1 {
		t.Fatalf("shutdown hook ran %d times, want 1", got)
	}
	if c.Reason() != syscall.SIGTERM.String() {
		t.Fatalf("reason = %q", c.Reason())
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if !src.stopped {
		t.Fatalf("signal source not stopped")
	}
}
