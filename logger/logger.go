package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	TRACE LogLevel = iota // ATT/L2CAP packets, individual chunks
	DEBUG                 // Protocol commands, notifications, state dumps
	INFO                  // Connections, subscriptions, completed files
	WARN                  // Ignored notifications, overruns
	ERROR                 // Unsupported devices, aborted transfers
)

var levelNames = map[LogLevel]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO ",
	WARN:  "WARN ",
	ERROR: "ERROR",
}

var (
	currentLevel LogLevel  = INFO
	output       io.Writer = os.Stdout
	mu           sync.RWMutex
	writeMu      sync.Mutex
)

// String returns the trimmed level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return strings.TrimSpace(name)
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects all log lines. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	output = w
}

// ParseLevel converts a string to a LogLevel, defaulting to INFO
func ParseLevel(level string) LogLevel {
	for l, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(level)) {
			return l
		}
	}
	return INFO
}

// Tag builds the conventional "<short id> <role>" prefix used by every component
func Tag(id, role string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return role
	}
	return id + " " + role
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	mu.RLock()
	enabled := level >= currentLevel
	w := output
	mu.RUnlock()
	if !enabled {
		return
	}

	msg := fmt.Sprintf(format, args...)

	writeMu.Lock()
	defer writeMu.Unlock()
	if prefix != "" {
		fmt.Fprintf(w, "[%s %s] %s\n", prefix, levelNames[level], msg)
	} else {
		fmt.Fprintf(w, "[%s] %s\n", levelNames[level], msg)
	}
}

// Trace logs packet-level detail
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Debug logs protocol-level detail
func Debug(prefix, format string, args ...interface{}) {
	log(DEBUG, prefix, format, args...)
}

// Info logs a high-level event
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// ToJSON converts any value to a pretty-printed JSON string for logging.
// Protobuf messages go through protojson so well-known types render properly.
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		marshaler := protojson.MarshalOptions{
			Multiline:       true,
			Indent:          "  ",
			EmitUnpopulated: false,
		}
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// TraceJSON logs a trace message with a JSON representation
func TraceJSON(prefix, label string, v interface{}) {
	if GetLevel() > TRACE {
		return
	}
	log(TRACE, prefix, "%s:\n%s", label, ToJSON(v))
}

// DebugJSON logs a debug message with a JSON representation
func DebugJSON(prefix, label string, v interface{}) {
	if GetLevel() > DEBUG {
		return
	}
	log(DEBUG, prefix, "%s:\n%s", label, ToJSON(v))
}
