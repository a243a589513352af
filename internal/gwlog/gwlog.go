// Package gwlog provides the gateway's structured logger: a thin wrapper
// around github.com/charmbracelet/log (declared but unused in the teacher
// codebase; this is where it earns its keep) that gives every subsystem a
// child logger tagged with a "component" field, the idiomatic replacement
// for the teacher's per-subsystem debug-flag switchboard (-d k, -d i, -d m,
// ...) described in cmd/direwolf/main.go.
package gwlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level mirrors charmbracelet/log's levels, re-exported so callers outside
// this package don't need to import it directly.
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// New builds the root logger. Output defaults to stderr; callers that want
// to redirect to a log file pass their own writer.
func New(level Level, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
		Level:           level,
	})
	return l
}

// For returns a child logger tagged with the given component name, e.g.
// For(root, "reader") so every line that component emits carries
// component=reader.
func For(root *log.Logger, component string) *log.Logger {
	return root.With("component", component)
}
