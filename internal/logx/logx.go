// Package logx is the small leveled logger the buffer and tree
// packages use for diagnostics. It never allocates on a path that
// isn't already logging, and defaults to a no-op so the core packages
// carry no logging dependency of their own.
package logx

import (
	"log"
	"os"
)

// Logger is the interface the buffer and tree packages depend on.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything. It is the package default.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// Nop is the shared no-op logger.
var Nop Logger = nopLogger{}

// Std is a stdlib log.Logger-backed implementation, for cmd/ binaries
// that want diagnostics on stderr.
type Std struct {
	l *log.Logger
}

// NewStd builds a Std logger writing to os.Stderr with the given prefix.
func NewStd(prefix string) *Std {
	return &Std{l: log.New(os.Stderr, prefix, log.LstdFlags)}
}

func (s *Std) Debugf(format string, args ...any) { s.l.Printf("DEBUG "+format, args...) }
func (s *Std) Warnf(format string, args ...any)  { s.l.Printf("WARN  "+format, args...) }
func (s *Std) Errorf(format string, args ...any) { s.l.Printf("ERROR "+format, args...) }
