package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestManager_RunNormal(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	code := m.Run(func(ctx context.Context) error {
		return nil
	})

	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestManager_RunError(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	code := m.Run(func(ctx context.Context) error {
		return fmt.Errorf("something broke")
	})

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestManager_ShutdownHooksRunInOrder(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	var mu sync.Mutex
	var order []string

	m.OnShutdown("first", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	})
	m.OnShutdown("second", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})

	m.Run(func(ctx context.Context) error {
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hooks ran as %v", order)
	}
}

func TestManager_HookErrorDoesNotStopOthers(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	var secondRan bool
	m.OnShutdown("failing", func(ctx context.Context) error {
		return fmt.Errorf("hook failed")
	})
	m.OnShutdown("succeeding", func(ctx context.Context) error {
		secondRan = true
		return nil
	})

	m.Run(func(ctx context.Context) error {
		return nil
	})

	if !secondRan {
		t.Error("second hook should still run after first hook fails")
	}
}

func TestManager_HooksRunOnce(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	count := 0
	m.OnShutdown("counter", func(ctx context.Context) error {
		count++
		return nil
	})

	m.runHooks(time.Second)
	m.runHooks(time.Second)

	if count != 1 {
		t.Errorf("hooks ran %d times, want 1", count)
	}
}

func TestManager_Uptime(t *testing.T) {
	m := NewManager(DefaultShutdownConfig(), testLogger())

	time.Sleep(10 * time.Millisecond)
	if m.Uptime() < 10*time.Millisecond {
		t.Errorf("uptime too short: %v", m.Uptime())
	}
}

type fakeMarker struct {
	n      int
	err    error
	reason string
}

func (f *fakeMarker) MarkInterrupted(reason string) (int, error) {
	f.reason = reason
	return f.n, f.err
}

func TestRecoverRequests(t *testing.T) {
	marker := &fakeMarker{n: 3}
	RecoverRequests(testLogger(), marker)
	if marker.reason == "" {
		t.Error("no reason passed to the marker")
	}
}

func TestRecoverRequests_ErrorIsSwallowed(t *testing.T) {
	marker := &fakeMarker{err: errors.New("db locked")}
	// Must not panic; recovery is best-effort.
	RecoverRequests(testLogger(), marker)
}
