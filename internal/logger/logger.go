// Package logger provides leveled logging on top of the standard log package.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var (
	mu     sync.RWMutex
	level  = InfoLevel
	output = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// ParseLevel maps a config string to a Level. Unknown values map to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init configures the package logger. Format "text" adds file:line to every entry.
func Init(lvl string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	mu.Lock()
	level = ParseLevel(lvl)
	output = log.New(os.Stderr, "", flags)
	mu.Unlock()
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	output.SetOutput(w)
	mu.Unlock()
}

func logf(l Level, tag, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level > l {
		return
	}
	_ = output.Output(3, fmt.Sprintf(tag+format, args...))
}

func Debug(format string, args ...interface{}) { logf(DebugLevel, "[DEBUG] ", format, args...) }
func Info(format string, args ...interface{})  { logf(InfoLevel, "[INFO] ", format, args...) }
func Warn(format string, args ...interface{})  { logf(WarnLevel, "[WARN] ", format, args...) }
func Error(format string, args ...interface{}) { logf(ErrorLevel, "[ERROR] ", format, args...) }

// Fatal logs regardless of level and exits the process.
func Fatal(format string, args ...interface{}) {
	mu.RLock()
	_ = output.Output(2, fmt.Sprintf("[FATAL] "+format, args...))
	mu.RUnlock()
	os.Exit(1)
}
