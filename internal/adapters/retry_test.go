package adapters

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsEventually(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts=%d want 3", attempts)
	}
}

func TestRetryGivesUpAfterThree(t *testing.T) {
	t.Parallel()
	attempts := 0
	sentinel := errors.New("down")
	err := Retry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts=%d want 3", attempts)
	}
}

func TestRetryStopsOnAuthFailure(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return ErrUnauthorized
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("auth failure must not retry: %d attempts", attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts == 0 || attempts == 3 {
		t.Errorf("cancellation should interrupt backoff: %d attempts", attempts)
	}
}
