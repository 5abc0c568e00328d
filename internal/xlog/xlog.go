// Package xlog is the ambient logging facility used across the engine. It
// keeps golang-dep's internal/util approach of plain leveled print
// functions writing to an io.Writer, but gates each call through a level
// mask the way libalpm's _alpm_log gates calls through alpm_option_get_logmask
// before ever reaching the registered callback.
package xlog

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Level is a bit in a Logger's mask, mirroring libalpm's PM_LOG_* flags.
type Level uint8

const (
	Error Level = 1 << iota
	Warning
	Debug
	Function
)

func (l Level) prefix() string {
	switch l {
	case Error:
		return "error: "
	case Warning:
		return "warning: "
	case Debug:
		return "debug: "
	case Function:
		return "function: "
	default:
		return ""
	}
}

// Default is the mask used when a Logger is not given an explicit one:
// errors and warnings are always visible, debug/function tracing is opt-in.
const Default = Error | Warning

// Logger writes leveled messages to an underlying writer, suppressing any
// level not set in its mask. The zero Logger is not usable; use New.
type Logger struct {
	w    io.Writer
	mask Level
}

// New returns a Logger writing to w with the given level mask.
func New(w io.Writer, mask Level) *Logger {
	return &Logger{w: w, mask: mask}
}

// Std returns a Logger writing to os.Stderr with the Default mask.
func Std() *Logger {
	return New(os.Stderr, Default)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || l.w == nil || l.mask&level == 0 {
		return
	}
	fmt.Fprintf(l.w, level.prefix()+format+"\n", args...)
}

func (l *Logger) Errorf(format string, args ...interface{})   { l.log(Error, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{}) { l.log(Warning, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})   { l.log(Debug, format, args...) }

// SetMask replaces the logger's level mask, e.g. to enable Debug tracing
// for a single diagnostic run.
func (l *Logger) SetMask(mask Level) { l.mask = mask }

// AuditLog is the append-only transaction log configured by the core's
// log_file option, distinct from the diagnostic Logger above: every line
// is timestamped "[MM/DD/YY HH:MM] message", with a "warning:"/"error:"
// prefix when applicable, mirroring the audit trail pacman writes to
// /var/log/pacman.log.
type AuditLog struct {
	w   io.Writer
	now func() time.Time
}

// NewAuditLog returns an AuditLog appending to w, timestamping each line
// with the current time.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{w: w, now: time.Now}
}

func (a *AuditLog) write(prefix, format string, args ...interface{}) {
	if a == nil || a.w == nil {
		return
	}
	ts := a.now().Format("01/02/06 15:04")
	fmt.Fprintf(a.w, "[%s] %s%s\n", ts, prefix, fmt.Sprintf(format, args...))
}

func (a *AuditLog) Infof(format string, args ...interface{})    { a.write("", format, args...) }
func (a *AuditLog) Warningf(format string, args ...interface{}) { a.write("warning: ", format, args...) }
func (a *AuditLog) Errorf(format string, args ...interface{})   { a.write("error: ", format, args...) }
