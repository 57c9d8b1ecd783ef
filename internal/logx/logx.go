package logx

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes one JSON object per line. All stackinit components log
// through it so container logs stay machine-parseable end to end.
type Logger struct {
	mu        sync.Mutex
	enc       *json.Encoder
	component string
}

// New returns a Logger tagged with the given component, writing to stdout.
func New(component string) *Logger {
	return NewWithWriter(component, os.Stdout)
}

// NewWithWriter returns a Logger writing to w; used by tests.
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{enc: json.NewEncoder(w), component: component}
}

// Info logs an event at info level with optional extra fields.
func (l *Logger) Info(event string, fields map[string]any) {
	l.emit("info", event, fields)
}

// Warn logs an event at warn level.
func (l *Logger) Warn(event string, fields map[string]any) {
	l.emit("warn", event, fields)
}

// Error logs an event at error level, attaching the error message.
func (l *Logger) Error(event string, err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.emit("error", event, fields)
}

func (l *Logger) emit(level, event string, fields map[string]any) {
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": l.component,
		"event":     event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(entry)
}
