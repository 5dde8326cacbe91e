// Package util provides logging and call statistics shared by every package.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// The Log* helpers print untagged lines meant for the person at the
// terminal. Package code that wants a module tag uses Logger instead.

// LogDebug prints only after EnableDebug, e.g. ICE configuration details.
func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

// LogInfo reports call progress such as "idle" or "local preview cleared".
func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a milestone the user waits for, such as reaching a call.
// It logs at info level.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogWarning reports a recoverable problem, such as a missing camera.
func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

// LogError reports a failure that ends the current command.
func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger tags every line with a module name and optional key/value pairs,
// e.g. Logger("session").With("room", "lobby").Info("joined").
type Logger struct {
	fields map[string]any
}

// NewLogger returns a Logger whose lines carry module=name.
func NewLogger(module string) Logger {
	return Logger{fields: map[string]any{"module": module}}
}

// With returns a copy of l with an extra field.
func (l Logger) With(key string, value any) Logger {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return Logger{fields: fields}
}

func (l Logger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.ArgsFromMap(l.fields)
}

func (l Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}
