// Package nlog is the shard manager's own leveled logger, modeled on the
// teacher's cmn/nlog: unbuffered writes, simple severities, explicit Flush.
// No third-party logging library is used here because the teacher rolls
// its own rather than reaching for one anywhere in its own stack.
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) tag() string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all log output; used by tests to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func log(sev severity, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().Format("15:04:05.000000")
	fmt.Fprintf(out, "%s %s %s\n", sev.tag(), ts, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }

// Flush is a no-op for the unbuffered stderr writer but kept as an
// explicit call site (matching the teacher's Flush(exit bool) signature)
// so call sites don't change if output buffering is added later.
func Flush(_ ...bool) {}
