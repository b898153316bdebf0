// Package klog is the kernel's serial logger: newline-delimited lines
// into whatever sink the machine provides. Output only; it is not
// capability-protected and exists for bring-up and diagnostics.
package klog

import (
	"fmt"
	"io"
	"sync"
)

// Logger writes formatted lines to a serial sink.
type Logger struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a logger over the sink. A nil sink discards everything.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

func (l *Logger) line(prefix, format string, args ...any) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, prefix+format+"\n", args...)
}

// Infof logs a line.
func (l *Logger) Infof(format string, args ...any) {
	l.line("", format, args...)
}

// Warnf logs a line marked as a warning.
func (l *Logger) Warnf(format string, args ...any) {
	l.line("warn: ", format, args...)
}
