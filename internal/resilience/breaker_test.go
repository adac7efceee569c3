package resilience

import (
	"errors"
	"testing"
	"time"
)

var errWebhook = errors.New("webhook unreachable")

func TestBreakerClosedPassesThrough(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errWebhook })
	}

	err := b.Execute(func() error { t.Fatal("fn called while open"); return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errWebhook })
	_ = b.Execute(func() error { return errWebhook })

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open before cooldown, got %v", err)
	}

	now = now.Add(2 * time.Second)

	// First call after the cooldown is the probe; success closes the
	// circuit again.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected closed after successful probe, got %v", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errWebhook })
	_ = b.Execute(func() error { return errWebhook })
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errWebhook })

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopen after failed probe, got %v", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errWebhook })
	_ = b.Execute(func() error { return errWebhook })
	_ = b.Execute(func() error { return nil })

	// Two more failures stay under the threshold after the reset.
	_ = b.Execute(func() error { return errWebhook })
	_ = b.Execute(func() error { return errWebhook })

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
}
