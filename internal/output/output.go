// Package output provides verbosity-filtered progress logging for the CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Log writes progress messages to a stream. Each message carries a
// verbosity level; messages above the configured verbosity are dropped.
// Level 0 is always printed, level 1 appears with -v, level 2 with -vv.
type Log struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity int
}

// New creates a log writing to w. A nil w defaults to stderr so that
// messages never mix with rewritten Dockerfile content on stdout.
func New(w io.Writer, verbosity int) *Log {
	if w == nil {
		w = os.Stderr
	}
	return &Log{w: w, verbosity: verbosity}
}

// Discard returns a log that drops everything.
func Discard() *Log {
	return &Log{w: io.Discard, verbosity: -1}
}

// Print writes a message when its verbosity does not exceed the log's.
func (l *Log) Print(verbosity int, format string, args ...interface{}) {
	if l == nil || verbosity > l.verbosity {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format+"\n", args...)
}
