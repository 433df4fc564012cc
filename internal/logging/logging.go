package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Category tags log entries by subsystem so the UI can filter them.
type Category string

const (
	CatSystem    Category = "system"
	CatCard      Category = "card"
	CatSession   Category = "session"
	CatLedger    Category = "ledger"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Level mirrors logrus levels for the in-memory buffer.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one buffered log record, served at /v1/logs.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

var (
	mu      sync.RWMutex
	logger  = logrus.New()
	buffer  []Entry
	bufSize = 1000
	next    int
	full    bool
)

// Init configures the logger. bufferSize bounds the in-memory entry buffer;
// level sets the minimum level written to stderr.
func Init(bufferSize int, level Level) {
	mu.Lock()
	defer mu.Unlock()

	if bufferSize > 0 {
		bufSize = bufferSize
	}
	buffer = make([]Entry, bufSize)
	next = 0
	full = false

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	switch level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

func record(level Level, cat Category, msg string, fields map[string]any) {
	mu.Lock()
	if buffer == nil {
		buffer = make([]Entry, bufSize)
	}
	buffer[next] = Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   fields,
	}
	next++
	if next == len(buffer) {
		next = 0
		full = true
	}
	mu.Unlock()

	lf := logrus.Fields{"category": string(cat)}
	for k, v := range fields {
		lf[k] = v
	}
	e := logger.WithFields(lf)
	switch level {
	case LevelDebug:
		e.Debug(msg)
	case LevelWarn:
		e.Warn(msg)
	case LevelError:
		e.Error(msg)
	default:
		e.Info(msg)
	}
}

// Debug logs a debug-level message.
func Debug(cat Category, msg string, fields map[string]any) {
	record(LevelDebug, cat, msg, fields)
}

// Info logs an info-level message.
func Info(cat Category, msg string, fields map[string]any) {
	record(LevelInfo, cat, msg, fields)
}

// Warn logs a warning-level message.
func Warn(cat Category, msg string, fields map[string]any) {
	record(LevelWarn, cat, msg, fields)
}

// Error logs an error-level message.
func Error(cat Category, msg string, fields map[string]any) {
	record(LevelError, cat, msg, fields)
}

// GetRecent returns up to limit buffered entries, newest last.
func GetRecent(limit int) []Entry {
	mu.RLock()
	defer mu.RUnlock()

	if buffer == nil {
		return nil
	}

	var out []Entry
	if full {
		out = append(out, buffer[next:]...)
		out = append(out, buffer[:next]...)
	} else {
		out = append(out, buffer[:next]...)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
