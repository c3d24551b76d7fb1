// Package logging is the internal leveled logger shared by the eshm packages.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Logger writes leveled, colorized lines with caller location.
type Logger struct {
	name      string
	out       io.Writer
	callDepth int
}

var (
	level = LevelWarn

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{magenta, green, blue, yellow, red}

	levelName = []string{"Trace", "Debug", "Info", "Warn", "Error"}
)

// Log levels, lowest to highest.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

func init() {
	if v := os.Getenv("ESHM_LOG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n <= LevelNoPrint {
			level = n
		}
	}
}

// SetLevel changes the process-wide log level. The default is Warn; the
// ESHM_LOG_LEVEL env var is consulted once at startup.
func SetLevel(l int) {
	if l <= LevelNoPrint {
		level = l
	}
}

// New returns a named logger. A nil out falls back to stderr.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{name: name, out: out, callDepth: 4}
}

func (l *Logger) Errorf(format string, a ...interface{}) { l.printf(LevelError, format, a...) }

func (l *Logger) Warnf(format string, a ...interface{}) { l.printf(LevelWarn, format, a...) }

func (l *Logger) Infof(format string, a ...interface{}) { l.printf(LevelInfo, format, a...) }

func (l *Logger) Debugf(format string, a ...interface{}) { l.printf(LevelDebug, format, a...) }

func (l *Logger) Tracef(format string, a ...interface{}) { l.printf(LevelTrace, format, a...) }

func (l *Logger) printf(lv int, format string, a ...interface{}) {
	if level > lv {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *Logger) prefix(lv int) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
