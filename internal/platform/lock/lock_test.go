package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	lk, err := l.Obtain(ctx, "offline-sync", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Obtain(ctx, "offline-sync", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Errorf("expected ErrNotObtained, got %v", err)
	}
	if _, err := l.Obtain(ctx, "outbox-dispatch", time.Minute); err != nil {
		t.Errorf("expected independent key to be obtainable, got %v", err)
	}

	if err := lk.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Obtain(ctx, "offline-sync", time.Minute); err != nil {
		t.Errorf("expected lock to be obtainable after release, got %v", err)
	}
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "job", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(2 * time.Second)
	fresh, err := l.Obtain(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("expected expired lock to be taken over, got %v", err)
	}

	// Releasing the stale handle must not free the new holder's lock.
	_ = stale.Release(ctx)
	if _, err := l.Obtain(ctx, "job", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Errorf("expected ErrNotObtained, got %v", err)
	}
	_ = fresh.Release(ctx)
}

func TestLocalLocker_Refresh(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	lk, err := l.Obtain(ctx, "job", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now = now.Add(800 * time.Millisecond)
	if err := lk.Refresh(ctx, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(800 * time.Millisecond)
	if _, err := l.Obtain(ctx, "job", time.Minute); !errors.Is(err, ErrNotObtained) {
		t.Errorf("expected the refreshed lock to still be held, got %v", err)
	}

	now = now.Add(time.Second)
	if err := lk.Refresh(ctx, time.Second); !errors.Is(err, ErrNotObtained) {
		t.Errorf("expected an expired lock to refuse refresh, got %v", err)
	}
}
