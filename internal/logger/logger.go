// Package logger provides the process-wide log used by detectsearch.
//
// Debug, Info, Warn and Section are printed only in verbose mode
// (the --verbose flag). Error is always printed. Background components
// log through a Component so their lines carry a fixed prefix.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput redirects log output. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// logf writes one line. Lines other than errors need verbose mode.
func logf(always bool, prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if always || verbose {
		fmt.Fprintf(output, prefix+format+"\n", args...)
	}
}

// Debug traces individual steps.
func Debug(format string, args ...any) { logf(false, "[DEBUG] ", format, args...) }

// Info reports completed operations.
func Info(format string, args ...any) { logf(false, "[INFO] ", format, args...) }

// Warn reports recoverable failures such as a deferred index update.
func Warn(format string, args ...any) { logf(false, "[WARN] ", format, args...) }

// Error reports failures that need attention, regardless of verbose mode.
func Error(format string, args ...any) { logf(true, "[ERROR] ", format, args...) }

// Section prints a header separating the trace of one operation.
func Section(name string) { logf(false, "\n=== ", "%s ===", name) }

// Component logs on behalf of a named background component.
type Component struct {
	name string
}

// For returns the logger for a component, e.g. For("inbox").
func For(name string) Component {
	return Component{name: name}
}

func (c Component) Debug(format string, args ...any) {
	logf(false, "[DEBUG] "+c.name+": ", format, args...)
}

func (c Component) Info(format string, args ...any) {
	logf(false, "[INFO] "+c.name+": ", format, args...)
}

func (c Component) Warn(format string, args ...any) {
	logf(false, "[WARN] "+c.name+": ", format, args...)
}

func (c Component) Error(format string, args ...any) {
	logf(true, "[ERROR] "+c.name+": ", format, args...)
}
