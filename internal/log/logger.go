// SPDX-License-Identifier: MIT
//
// Package log is the leveled logger shared by every package. The level is
// global and atomic, so the audio thread can test it without locking;
// callers on the audio thread still rate limit what they log.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel is the severity of a message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// tags are padded so messages line up after the level.
var tags = [...]string{
	LevelDebug: "[DEBUG] ",
	LevelInfo:  "[INFO]  ",
	LevelWarn:  "[WARN]  ",
	LevelError: "[ERROR] ",
	LevelFatal: "[FATAL] ",
}

func (l LogLevel) String() string {
	if int(l) >= len(tags) {
		return "UNKNOWN"
	}
	return strings.Trim(tags[l], "[] ")
}

// ParseLevel maps a level name, ignoring case and surrounding space, to a
// LogLevel. Unknown names return LevelInfo and false.
func ParseLevel(name string) (LogLevel, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		return LevelWarn, true
	}
	for l := range tags {
		if LogLevel(l).String() == name {
			return LogLevel(l), true
		}
	}
	return LevelInfo, false
}

var (
	level  atomic.Uint32
	logger atomic.Pointer[stdlog.Logger] // Replaced, never mutated.
)

func init() {
	SetLevel(LevelInfo)
	SetOutput(os.Stderr)
}

// SetLevel sets the global level.
func SetLevel(l LogLevel) { level.Store(uint32(l)) }

// GetLevel returns the global level.
func GetLevel() LogLevel { return LogLevel(level.Load()) }

// SetLevelString sets the level by name and reports whether the name was
// known. Unknown names select LevelInfo.
func SetLevelString(name string) bool {
	l, ok := ParseLevel(name)
	SetLevel(l)
	return ok
}

// SetOutput sends every later message to w. The terminal monitor uses it to
// keep log lines off the screen it draws.
func SetOutput(w io.Writer) {
	logger.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

func enabled(l LogLevel) bool { return l >= GetLevel() }

func emit(l LogLevel, msg string) { logger.Load().Print(tags[l] + msg) }

func logf(l LogLevel, format string, v []any) {
	if enabled(l) {
		emit(l, fmt.Sprintf(format, v...))
	}
}

func Debugf(format string, v ...any) { logf(LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(LevelError, format, v) }

// Fatalf logs regardless of level and exits with status 1.
func Fatalf(format string, v ...any) {
	emit(LevelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		emit(LevelInfo, fmt.Sprint(v...))
	}
}

func Error(v ...any) {
	if enabled(LevelError) {
		emit(LevelError, fmt.Sprint(v...))
	}
}
