// Package logger provides leveled stderr logging for the ragtrust CLI.
// Debug and info lines appear only with --verbose; warnings and errors
// are always written.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	now               = time.Now
)

// SetVerbose enables or disables verbose logging
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func write(always bool, prefix, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if !always && !verbose {
		return
	}
	fmt.Fprintf(output, "%s %s"+format+"\n", append([]any{now().Format("15:04:05"), prefix}, args...)...)
}

// Debug prints a message if verbose mode is enabled
func Debug(format string, args ...any) { write(false, "[DEBUG] ", format, args...) }

// Info prints an informational message if verbose mode is enabled
func Info(format string, args ...any) { write(false, "[INFO] ", format, args...) }

// Warn always prints a warning
func Warn(format string, args ...any) { write(true, "[WARN] ", format, args...) }

// Error always prints an error
func Error(format string, args ...any) { write(true, "[ERROR] ", format, args...) }

// Section prints a section header if verbose mode is enabled
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Timed logs the elapsed time of an operation at debug level. Use as
// defer logger.Timed("verify")().
func Timed(op string) func() {
	start := now()
	return func() {
		Debug("%s took %v", op, now().Sub(start).Round(time.Millisecond))
	}
}
