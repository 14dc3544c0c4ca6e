package util

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

var Logger *log.Logger

// getColoredPrefix returns a styled prefix with colors
func getColoredPrefix(name string) string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#6366F1")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)
	return style.Render(name)
}

// InitLogger initializes the charmbracelet logger on stderr for the named process.
func InitLogger(name string) {
	InitLoggerTo(os.Stderr, name)
}

// InitLoggerTo initializes the logger writing to w.
func InitLoggerTo(w io.Writer, name string) {
	Logger = log.NewWithOptions(w, log.Options{
		ReportCaller:    IsDebug,
		CallerOffset:    1,
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          getColoredPrefix(name),
	})

	if IsDebug {
		Logger.SetLevel(log.DebugLevel)
		Logger.SetColorProfile(termenv.TrueColor)
		Logger.Debug("Debug logging enabled with charmbracelet/log")
	} else {
		Logger.SetLevel(log.InfoLevel)
		Logger.SetColorProfile(termenv.TrueColor)
	}
}

// Debug logs a debug message (only when debug mode is enabled)
func Debug(msg interface{}, keyvals ...interface{}) {
	if IsDebug && Logger != nil {
		Logger.Debug(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Info logs an info message
func Info(msg interface{}, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Warn logs a warning message
func Warn(msg interface{}, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(fmt.Sprintf("%v", msg), keyvals...)
	}
}

// Error logs an error message
func Error(msg interface{}, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Error(fmt.Sprintf("%v", msg), keyvals...)
	}
}
