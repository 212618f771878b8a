package alarm

import (
	"context"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyForNonPositiveTicks(t *testing.T) {
	m := NewManager()
	if err := m.Wait(context.Background(), 0); err != nil {
		t.Fatalf("expected a zero-tick wait to return immediately, got %v", err)
	}
}

func TestWaitFiresAfterExactlyNTicks(t *testing.T) {
	m := NewManager()
	result := make(chan error, 1)
	go func() {
		result <- m.Wait(context.Background(), 3)
	}()

	// Give the goroutine a chance to register before ticking.
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 2; i++ {
		m.Tick()
		select {
		case <-result:
			t.Fatalf("expected the alarm to still be pending after %d ticks", i+1)
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Tick()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected a nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the alarm to fire on the third tick")
	}
}

func TestWaitReturnsContextErrorAndUnregisters(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := m.Wait(ctx, 1000); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("expected the cancelled alarm to be unregistered, got %d pending", m.Pending())
	}
}

func TestTickAdvancesMultipleAlarmsIndependently(t *testing.T) {
	m := NewManager()
	short := make(chan error, 1)
	long := make(chan error, 1)
	go func() { short <- m.Wait(context.Background(), 1) }()
	go func() { long <- m.Wait(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)

	m.Tick()
	select {
	case err := <-short:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the 1-tick alarm to fire on the first tick")
	}
	select {
	case <-long:
		t.Fatal("expected the 2-tick alarm to still be pending")
	case <-time.After(10 * time.Millisecond):
	}

	m.Tick()
	select {
	case err := <-long:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the 2-tick alarm to fire on the second tick")
	}
}
