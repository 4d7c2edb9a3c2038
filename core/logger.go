package core

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Logger receives runtime events from schedulers, post offices and bridges.
// Wrap any structured logger (slog, zap, logrus) to route them elsewhere.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is one key/value attribute of a log entry.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// DefaultLogger writes entries through the standard log package.
// Entries below MinLevel are dropped.
type DefaultLogger struct {
	MinLevel Level
}

// NewDefaultLogger logs Info and above.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{MinLevel: LevelInfo}
}

// NewLeveledLogger logs min and above.
func NewLeveledLogger(min Level) *DefaultLogger {
	return &DefaultLogger{MinLevel: min}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields...)
}

func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields...)
}

func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields...)
}

func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.log(LevelError, msg, fields...)
}

func (l *DefaultLogger) log(level Level, msg string, fields ...Field) {
	if level < l.MinLevel {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	if len(fields) > 0 {
		b.WriteString(" {")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", f.Key, f.Value)
		}
		b.WriteString("}")
	}
	log.Println(b.String())
}

// NoOpLogger discards everything. It is the scheduler default.
type NoOpLogger struct{}

// NewNoOpLogger returns a NoOpLogger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// =============================================================================
// Retry Policy
// =============================================================================

// RetryPolicy defines how a bridged thread retries a send that met backpressure.
type RetryPolicy struct {
	// MaxRetries caps retries: 0 never retries, -1 retries until ctx ends.
	MaxRetries int

	// InitialDelay bounds the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps every later wait.
	MaxDelay time.Duration

	// BackoffRatio multiplies the wait after each retry. With 1ms and 2.0
	// the waits are 1ms, 2ms, 4ms and so on up to MaxDelay.
	BackoffRatio float64
}

// DefaultRetryPolicy retries until the context ends, waiting at most 50ms between attempts.
// A bridged thread is also woken early whenever its shim moves traffic.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   -1,
		InitialDelay: time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		BackoffRatio: 2.0,
	}
}

// NoRetry makes SendWait behave like Send.
func NoRetry() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		InitialDelay: 0,
		MaxDelay:     0,
		BackoffRatio: 1.0,
	}
}

// calculateDelay returns the wait before retry number attempt, counting from 0.
func (p RetryPolicy) calculateDelay(attempt int) time.Duration {
	if p.InitialDelay == 0 {
		return 0
	}

	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffRatio
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}

func (p RetryPolicy) allows(attempt int) bool {
	return p.MaxRetries < 0 || attempt < p.MaxRetries
}
