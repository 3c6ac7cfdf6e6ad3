package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureWriter struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *captureWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestConsoleHandler_Output(t *testing.T) {
	w := &captureWriter{}
	log := slog.New(newConsoleHandler(w, slog.LevelInfo))

	log.Info("request started", "request", "r1", "space", "personal")

	out := w.String()
	if !strings.Contains(out, "request started") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "request=r1") || !strings.Contains(out, "space=personal") {
		t.Errorf("attrs missing: %q", out)
	}
}

func TestConsoleHandler_LevelFilter(t *testing.T) {
	w := &captureWriter{}
	log := slog.New(newConsoleHandler(w, slog.LevelInfo))

	log.Debug("noise")
	if w.String() != "" {
		t.Errorf("debug leaked through: %q", w.String())
	}
}

func TestConsoleHandler_WithAttrsAndGroup(t *testing.T) {
	w := &captureWriter{}
	base := newConsoleHandler(w, slog.LevelInfo)
	log := slog.New(base).With("daemon", "onced").WithGroup("req")

	log.Warn("slow iteration", "latency", "2s")

	out := w.String()
	if !strings.Contains(out, "daemon=onced") {
		t.Errorf("carried attr missing: %q", out)
	}
	if !strings.Contains(out, "req.latency=2s") {
		t.Errorf("group prefix missing: %q", out)
	}
}

func TestConsoleHandler_Enabled(t *testing.T) {
	h := newConsoleHandler(&captureWriter{}, slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled at warn level")
	}
}

func TestConsoleHandler_ConcurrentWrites(t *testing.T) {
	w := &captureWriter{}
	log := slog.New(newConsoleHandler(w, slog.LevelInfo))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				log.Info("tick", "at", time.Now())
			}
		}()
	}
	wg.Wait()

	if lines := strings.Count(w.String(), "\n"); lines != 160 {
		t.Errorf("lines = %d, want 160", lines)
	}
}
