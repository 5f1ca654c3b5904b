// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/vigil/pkg/errors"
)

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(time.Millisecond)

	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnUnrecoverable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithInitialDelay(time.Millisecond)

	err := cfg.Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeConfig, "bad config", nil).WithRecoverable(false)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("unrecoverable error must not retry, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().
		WithMaxAttempts(2).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(time.Millisecond)

	err := cfg.Do(context.Background(), func() error {
		attempts++
		return stderrors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected last error to surface")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultRetryConfig().WithInitialDelay(time.Hour)
	err := cfg.Do(ctx, func() error {
		return stderrors.New("fail once to force a backoff wait")
	})
	ve := errors.AsVigilError(err)
	if ve == nil || ve.Code != errors.CodeTimeout {
		t.Fatalf("expected timeout-coded error on cancel, got %v", err)
	}
}
