// Package daemon hosts the HTTP surface of the onced process and its
// logging setup: a compact colored handler when stderr is a terminal,
// JSON for log collectors otherwise.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI escape codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiGray   = "\033[90m"
)

// NewLogger builds the process logger. Terminals get the colored console
// handler, everything else gets JSON.
func NewLogger(level slog.Level) *slog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(newConsoleHandler(os.Stderr, level))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// consoleHandler renders "15:04:05 LEVEL message k=v k=v" with a little
// color. Groups are flattened into dotted attribute names.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(ansiGray + rec.Time.Format(time.TimeOnly) + ansiReset)
	b.WriteByte(' ')
	b.WriteString(levelTag(rec.Level))
	b.WriteByte(' ')
	b.WriteString(rec.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs stores attrs with the prefix they were added under, so a later
// WithGroup does not retroactively rename them.
func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		out.attrs = append(out.attrs, a)
	}
	return &out
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.prefix = h.prefix + name + "."
	return &out
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s%s=%v%s", ansiDim, prefix, a.Key, a.Value, ansiReset)
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiBold + ansiRed + "ERROR" + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + "WARN " + ansiReset
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return ansiDim + "DEBUG" + ansiReset
	}
}
