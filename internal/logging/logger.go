// Package logging provides leveled logging and replicate tracing for nmixsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A TraceLogger for structured JSONL replicate traces (trace.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for full content logging.
// At this level, per-parameter rows and other verbose content are included.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Status is the terminal state of one replicate.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ReplicateEvent is one trace record: how a single simulate-fit-diagnose
// cycle ended.
type ReplicateEvent struct {
	Time    time.Time `json:"time"`
	Sim     int       `json:"sim"`
	Status  Status    `json:"status"`
	Rows    int       `json:"rows,omitempty"`
	Err     string    `json:"err,omitempty"`
	Elapsed string    `json:"elapsed,omitempty"`
}

// TraceLogger appends ReplicateEvents to a JSONL file. It is safe for
// concurrent use. A nil TraceLogger is safe to use; all methods are no-ops
// on nil receiver.
type TraceLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewTraceLogger creates a trace logger writing to dir/trace.jsonl.
// At "info" level (the default), returns nil — no file is created.
// At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewTraceLogger(dir string, level string) *TraceLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, "trace.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &TraceLogger{file: f, enc: json.NewEncoder(f)}
}

// Replicate records one replicate outcome as a single JSONL line. A zero
// Time is stamped with the current UTC time. Safe to call on nil receiver.
func (tl *TraceLogger) Replicate(ev ReplicateEvent) {
	if tl == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	_ = tl.enc.Encode(ev)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (tl *TraceLogger) Close() {
	if tl == nil {
		return
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	tl.file.Close()
	tl.file = nil
	tl.enc = nil
}
