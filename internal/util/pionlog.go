package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logging into the pterm logger.
// pion is chatty at info level, so its info output is demoted to debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: NewLogger("pion").With("scope", scope)}
}

type pionLogger struct {
	log Logger
}

func (p pionLogger) Trace(msg string)                          {}
func (p pionLogger) Tracef(format string, args ...interface{}) {}

func (p pionLogger) Debug(msg string) { p.log.Debug("%s", msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) {
	p.log.Debug("%s", fmt.Sprintf(format, args...))
}

func (p pionLogger) Info(msg string) { p.log.Debug("%s", msg) }
func (p pionLogger) Infof(format string, args ...interface{}) {
	p.log.Debug("%s", fmt.Sprintf(format, args...))
}

func (p pionLogger) Warn(msg string) { p.log.Warn("%s", msg) }
func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.log.Warn("%s", fmt.Sprintf(format, args...))
}

func (p pionLogger) Error(msg string) { p.log.Error("%s", msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.log.Error("%s", fmt.Sprintf(format, args...))
}
