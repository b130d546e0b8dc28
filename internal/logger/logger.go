// Package logger holds the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

func init() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})

	if err := SetLevel(os.Getenv("LOG_LEVEL")); err != nil {
		Logger.SetLevel(log.InfoLevel)
	}
}

// SetLevel accepts DEBUG, INFO, WARN, ERROR or FATAL in any case.
// An empty level selects INFO.
func SetLevel(level string) error {
	switch strings.ToUpper(level) {
	case "DEBUG":
		Logger.SetLevel(log.DebugLevel)
	case "", "INFO":
		Logger.SetLevel(log.InfoLevel)
	case "WARN", "WARNING":
		Logger.SetLevel(log.WarnLevel)
	case "ERROR":
		Logger.SetLevel(log.ErrorLevel)
	case "FATAL":
		Logger.SetLevel(log.FatalLevel)
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	return nil
}

// Component returns a logger whose lines are prefixed with name.
func Component(name string) *log.Logger {
	return Logger.WithPrefix(name)
}

func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}
