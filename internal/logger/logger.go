// Package logger provides structured logging and the protocol error
// taxonomy used across the BitChat engine.
//
// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the human-readable level name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field is a single structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// String builds a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Uint64 builds a uint64 field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Bool builds a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err builds an error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration builds a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any builds a field with an arbitrary value.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the structured logging interface used throughout the engine.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger is a JSON-emitting Logger implementation.
type StructuredLogger struct {
	mu          sync.RWMutex
	level       Level
	output      io.Writer
	context     context.Context
	baseFields  []Field
	timeFormat  string
	prettyPrint bool
}

// New creates a logger writing to output at the given minimum level.
func New(output io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
	}
}

// NewDefault creates a logger configured from the BITCHAT_LOG_LEVEL
// environment variable (default INFO), writing to stdout.
func NewDefault() *StructuredLogger {
	level := InfoLevel
	if envLevel := os.Getenv("BITCHAT_LOG_LEVEL"); envLevel != "" {
		switch strings.ToUpper(envLevel) {
		case "DEBUG":
			level = DebugLevel
		case "INFO":
			level = InfoLevel
		case "WARN":
			level = WarnLevel
		case "ERROR":
			level = ErrorLevel
		}
	}
	return New(os.Stdout, level)
}

// SetPrettyPrint toggles indented JSON output.
func (l *StructuredLogger) SetPrettyPrint(pretty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prettyPrint = pretty
}

func (l *StructuredLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *StructuredLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *StructuredLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *StructuredLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

// Fatal logs at FatalLevel then terminates the process.
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

// WithContext returns a derived logger carrying ctx for request/trace ids.
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     ctx,
		baseFields:  l.baseFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

// WithFields returns a derived logger with additional base fields attached
// to every subsequent entry.
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	newFields := make([]Field, len(l.baseFields)+len(fields))
	copy(newFields, l.baseFields)
	copy(newFields[len(l.baseFields):], fields)
	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     l.context,
		baseFields:  newFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{})
	entry["timestamp"] = time.Now().Format(l.timeFormat)
	entry["level"] = level.String()
	entry["message"] = msg

	if pc, file, line, ok := runtime.Caller(2); ok {
		entry["caller"] = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry["function"] = fn.Name()
		}
	}

	if l.context != nil {
		if peerID := l.context.Value(ctxKeyPeerID); peerID != nil {
			entry["peer_id"] = peerID
		}
		if sessionID := l.context.Value(ctxKeySessionID); sessionID != nil {
			entry["session_id"] = sessionID
		}
	}

	for _, f := range l.baseFields {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	var data []byte
	var err error
	if l.prettyPrint {
		data, err = json.MarshalIndent(entry, "", "  ")
	} else {
		data, err = json.Marshal(entry)
	}
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","message":"failed to marshal log entry","error":"%v"}`+"\n", err)
		return
	}
	fmt.Fprintf(l.output, "%s\n", data)
}

type ctxKey int

const (
	ctxKeyPeerID ctxKey = iota
	ctxKeySessionID
)

// WithPeerID attaches a peer id to ctx for loggers created via WithContext.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerID, peerID)
}

// WithSessionID attaches a session id to ctx for loggers created via WithContext.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// Code identifies one of the §7 error kinds.
type Code string

// Error taxonomy from the error handling design: each kind dictates how
// Core Logic is allowed to react (retry, drop, degrade, or treat as fatal).
const (
	CodeInvalidPacket     Code = "INVALID_PACKET"
	CodeSessionError      Code = "SESSION_ERROR"
	CodeTransportError    Code = "TRANSPORT_ERROR"
	CodeCryptoFailure     Code = "CRYPTO_FAILURE"
	CodeStorageError      Code = "STORAGE_ERROR"
	CodeConfigurationErr  Code = "CONFIGURATION_ERROR"
	CodeShutdown          Code = "SHUTDOWN"
)

// ProtocolError is a structured error carrying a §7 error code, an optional
// cause, and arbitrary diagnostic details.
type ProtocolError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ProtocolError) Unwrap() error { return e.Cause }

// WithDetail attaches a diagnostic key/value pair and returns the receiver.
func (e *ProtocolError) WithDetail(key string, value interface{}) *ProtocolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewProtocolError constructs a ProtocolError of the given kind.
func NewProtocolError(code Code, message string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Cause: cause}
}

// Recoverable reports whether Core Logic should attempt to continue
// operating after this error kind, per §7.
func (c Code) Recoverable() bool {
	switch c {
	case CodeConfigurationErr:
		return false
	default:
		return true
	}
}

var defaultLogger = NewDefault()

// SetDefault replaces the package-level default logger.
func SetDefault(l *StructuredLogger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() *StructuredLogger { return defaultLogger }
