package log

import (
	stdlog "log"
	"strings"
)

// levelWriter adapts a Logger to io.Writer for the standard library logger.
type levelWriter struct {
	logger Logger
	level  Level
}

func (w *levelWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.level {
	case DebugLevel:
		w.logger.Debug(msg)
	case WarnLevel:
		w.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that forwards into the facade at the
// given level. Useful for http.Server.ErrorLog and similar hooks.
func ToStdLogger(logger Logger, level Level) *stdlog.Logger {
	return stdlog.New(&levelWriter{logger: logger, level: level}, "", 0)
}

// RedirectStdLog points the global standard library logger at the facade.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(&levelWriter{logger: logger, level: InfoLevel})
}
