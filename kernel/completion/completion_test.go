package completion

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitBlocksUntilSignal(t *testing.T) {
	c := New()
	if c.Done() {
		t.Fatal("expected a fresh completion to be unsignaled")
	}

	result := make(chan error, 1)
	go func() {
		result <- c.Wait(context.Background())
	}()

	select {
	case <-result:
		t.Fatal("expected Wait to block before Signal is called")
	case <-time.After(30 * time.Millisecond):
	}

	c.Signal(nil)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected a nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Wait to return once Signal is called")
	}

	if !c.Done() {
		t.Fatal("expected Done to report true after Signal")
	}
}

func TestWaitReturnsTheSignaledError(t *testing.T) {
	c := New()
	wantErr := errors.New("remote migration failed")
	c.Signal(wantErr)

	if err := c.Wait(context.Background()); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestWaitReturnsContextErrorOnCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := c.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSignalAfterCancellationIsStillObservableByANewWaiter(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Wait(ctx); err != context.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}

	c.Signal(nil)
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("expected the already-signaled result to still be readable, got %v", err)
	}
}
