// Package dlog is the structured logging sink (§7 "structured log sink,
// syslog or equivalent"). It wraps logrus the way the rest of the example
// pack does structured logging (gvisor manifest, bobbydeveaux's indirect
// logrus dependency), and adds an optional tee into debug.txt when
// write_debug_log is configured.
package dlog

import (
	"io"
	"os"

	"github.com/kortschak/utter"
	"github.com/sirupsen/logrus"
)

// Logger is the dumper's single global-ish log sink, created once per
// invocation in internal/dumpctx and threaded through every component by
// value (never a package-global, unlike the teacher's bare log.Printf
// calls — this repo has many packages and a global logger would make
// tests noisy).
type Logger struct {
	*logrus.Logger
	debugFile *os.File
}

// New creates a Logger writing to w. No syslog transport is implemented:
// every record goes to w as given, and cmd/minicoredumper passes
// os.Stderr, so the dumper's log records appear on its own stderr.
func New(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &Logger{Logger: l}
}

// WithDebugFile opens path and tees every subsequent log record into it in
// addition to the primary sink, implementing the optional debug.txt
// mirror described in §7. It also lowers the level to debug, so debug-level
// records such as the VMA listing are written (to both sinks). Returns a
// cleanup func that closes the file.
func (l *Logger) WithDebugFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	l.debugFile = f
	l.SetOutput(io.MultiWriter(l.Out, f))
	l.SetLevel(logrus.DebugLevel)
	return func() { f.Close() }, nil
}

// Kind returns a field-decorated entry tagged with one of the
// internal/errkind sentinel kinds, matching the §7 taxonomy
// (kind=io-syscall-failure, kind=elf-parse-failure, ...). Every call site
// in this repo classifies its log line against that taxonomy rather than
// inventing ad hoc string tags, so the field value and the error
// everyone's errors.Is checks against never drift apart.
func (l *Logger) Kind(kind error) *logrus.Entry {
	return l.WithField("kind", kind.Error())
}

// Info returns a plain entry for operational messages that aren't one of
// the §7 error kinds (e.g. "imported source core", "target is not
// multithreaded").
func (l *Logger) Info() *logrus.Entry {
	return l.WithField("kind", "info")
}

// Dump renders v with field names and types, for debug.txt-only dumps of
// things like a parsed Descriptor or VMA list that are too structured for
// a single log line. Grounded on the kortschak-kprobe manifest's use of
// utter for verbose structure dumps. The rendering runs on every call;
// the caller passes the result to a debug-level log call, which is written
// only once WithDebugFile has raised the level to debug.
func (l *Logger) Dump(v interface{}) string {
	return utter.Sdump(v)
}
