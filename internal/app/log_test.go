package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLakeHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "commit published",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tcommit published\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "url cache miss",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\turl cache miss\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "staged",
			attrs:   []slog.Attr{slog.String("path", "blog/hello.md"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tstaged\tpath=blog/hello.md\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &lakeHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLakeHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &lakeHandler{w: &buf, opID: "op-1"}

	// Add pre-set attrs
	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "vault")}).(*lakeHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "upload", 0)
	r.AddAttrs(slog.String("key", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=vault") {
		t.Errorf("expected pre-set attr component=vault, got: %q", got)
	}
	if !strings.Contains(got, "key=abc") {
		t.Errorf("expected record attr key=abc, got: %q", got)
	}
}

func TestLakeHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &lakeHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*lakeHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestLakeHandler_Enabled(t *testing.T) {
	h := &lakeHandler{}
	// Without a level every record is written
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if !h.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = false, want true", level)
		}
	}

	h = &lakeHandler{level: slog.LevelWarn}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(INFO) = true with level WARN, want false")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("Enabled(ERROR) = false with level WARN, want true")
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(filepath.Join(dir, "log"), "test-op", slog.LevelError)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	if f == nil {
		t.Fatal("newLogger() returned nil file")
	}

	// debug records reach the file even though stderr only takes errors
	logger.Debug("engine started", "variant", "cgo")

	data, err := os.ReadFile(filepath.Join(dir, "log", LogFile))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "DEBUG\ttest-op\tengine started\tvariant=cgo") {
		t.Errorf("log file = %q, want the debug record", data)
	}
}

func TestFanoutHandler_WithAttrs(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanoutHandler{handlers: []slog.Handler{
		&lakeHandler{w: &a, opID: "op"},
		&lakeHandler{w: &b, opID: "op", level: slog.LevelWarn},
	}}
	logger := slog.New(h).With("component", "staging")

	logger.Info("staged")
	logger.Warn("queue full")

	if !strings.Contains(a.String(), "staged\tcomponent=staging") || !strings.Contains(a.String(), "queue full") {
		t.Errorf("first handler output = %q", a.String())
	}
	if strings.Contains(b.String(), "staged") || !strings.Contains(b.String(), "queue full\tcomponent=staging") {
		t.Errorf("second handler output = %q", b.String())
	}
}
