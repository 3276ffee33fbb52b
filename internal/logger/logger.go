package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	// ANSI colors
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"

	mu        sync.Mutex
	out       io.Writer = os.Stdout
	threshold           = INFO

	// Log channel for dashboard (optional)
	logChan   chan LogEntry
	logChanMu sync.RWMutex
)

// LogEntry is a structured log line streamed to dashboard clients.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Init applies the configured level and disables colors when NO_COLOR is set.
func Init(level string, noColor bool) {
	SetLevel(ParseLevel(level))
	if noColor || os.Getenv("NO_COLOR") != "" {
		DisableColors()
	}
}

func DisableColors() {
	mu.Lock()
	defer mu.Unlock()
	colorReset = ""
	colorRed = ""
	colorGreen = ""
	colorYellow = ""
	colorGray = ""
	colorCyan = ""
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	threshold = l
}

// SetOutput redirects console output, mainly for tests and the snapshot command.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLogChannel sets a channel to stream logs to (e.g., for dashboard)
func SetLogChannel(ch chan LogEntry) {
	logChanMu.Lock()
	defer logChanMu.Unlock()
	logChan = ch
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func log(level Level, component string, format string, args ...interface{}) {
	mu.Lock()
	if level < threshold {
		mu.Unlock()
		return
	}

	now := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	var color string
	switch level {
	case INFO:
		color = colorGreen
	case WARN:
		color = colorYellow
	case ERROR:
		color = colorRed
	case DEBUG:
		color = colorGray
	}

	fmt.Fprintf(out, "%s[%s]%s %s[%s]%s %s[%s]%s: %s\n",
		colorGray, now, colorReset,
		color, level, colorReset,
		colorCyan, component, colorReset,
		msg,
	)
	mu.Unlock()

	entry := LogEntry{
		Timestamp: now,
		Level:     level.String(),
		Component: component,
		Message:   msg,
	}

	logChanMu.RLock()
	if logChan != nil {
		select {
		case logChan <- entry:
		default:
			// Drop log if channel is full
		}
	}
	logChanMu.RUnlock()
}

func Debug(component string, format string, args ...interface{}) {
	log(DEBUG, component, format, args...)
}

func Info(component string, format string, args ...interface{}) {
	log(INFO, component, format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	log(WARN, component, format, args...)
}

func Error(component string, format string, args ...interface{}) {
	log(ERROR, component, format, args...)
}
