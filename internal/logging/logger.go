// Package logging provides a small leveled, category-aware logger used
// throughout the engine. It writes through the standard library's log
// package (so it inherits whatever output destination main() configures:
// stdout or a -logfile path) and colors warnings and errors the way
// an interactive terminal session expects.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"

	"github.com/fatih/color"
)

// writer is an io.Writer that splits its input stream into lines and
// forwards each complete line to a logging callback. It exists so that
// child-process stdout/stderr can be piped straight into the logger without
// the caller needing to do their own line buffering.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the engine's logger. A nil *Logger is valid and silently
// discards everything, so components can be constructed with an optional
// logger without nil-checking at every call site. It's designed to sit on
// top of the standard logger, so it respects whatever output the standard
// logger has been configured with. Levels are evaluated per logger, so a
// category's sub-logger can be silenced independently of its siblings.
type Logger struct {
	prefix string
	level  Level
}

// Root is the root logger from which every category sub-logger descends.
var Root = &Logger{level: LevelInfo}

// SetLevel adjusts the level gating for l and everything derived from it
// going forward. It does not retroactively affect loggers already created
// via Sublogger.
func (l *Logger) SetLevel(level Level) {
	if l != nil {
		l.level = level
	}
}

// Sublogger creates a new logger for a named category, inheriting the
// parent's level.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix, level: l.level}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && level <= l.level
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Printf logs at info level with fmt.Printf semantics.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Debugf logs at debug level with fmt.Printf semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Warnf logs a yellow-highlighted warning.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.output(3, color.YellowString("Warning: "+format, v...))
	}
}

// Errorf logs a red-highlighted error.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.output(3, color.RedString("Error: "+format, v...))
	}
}

// Writer returns an io.Writer that logs each complete line it receives at
// info level, for piping a child process's stdout into the log.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Printf("%s", s) }}
}

// ErrWriter returns an io.Writer that logs each complete line it receives as
// a warning, for piping a child process's stderr into the log.
func (l *Logger) ErrWriter() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Warnf("%s", s) }}
}
