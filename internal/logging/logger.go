// Package logging provides config-driven categorized file-based
// logging for FormSense. Logs are written to
// <workspace>/.formsense/logs/ with separate files per category.
// Logging is gated on debug_mode in the loaded config - when false,
// every call is a no-op.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup/initialization
	CategoryEngine      Category = "engine"      // Orchestrator pipeline
	CategoryRules       Category = "rules"       // Validation rule evaluation
	CategoryTrees       Category = "trees"       // Decision-tree traversal
	CategoryVisibility  Category = "visibility"  // Field visibility calculation
	CategoryConflicts   Category = "conflicts"   // Conflict detection/resolution
	CategoryEscalation  Category = "escalation"  // Escalation policy decisions
	CategoryEligibility Category = "eligibility" // Datalog eligibility advisor
	CategoryWorker      Category = "worker"      // Background worker path
	CategoryStore       Category = "store"       // Rule/tree/session stores
	CategorySession     Category = "session"     // Session lifecycle, retention
	CategoryAdvisor     Category = "advisor"     // Review summarizer
)

// Options mirrors the relevant parts of config.LoggingConfig to avoid
// a dependency on the config package.
type Options struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	JSONFormat bool
	Categories map[string]bool
}

// StructuredEntry is one JSON log line.
type StructuredEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory and options. Call once at
// startup with the workspace path; a no-op when debug mode is off.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil // Silent no-op in production mode
	}

	logsDir = filepath.Join(workspace, ".formsense", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== FormSense logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled reports whether a category is currently enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger when the category or debug mode is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date-prefixed file names keep rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	optsMu.RLock()
	jsonFmt := opts.JSONFormat
	optsMu.RUnlock()
	if jsonFmt {
		l.logJSON(tag, msg)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation id,
// used across the worker boundary.
type RequestLogger struct {
	logger    *Logger
	requestID string
}

// WithRequestID creates a request-scoped logger.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{logger: Get(category), requestID: requestID}
}

func (r *RequestLogger) prefix(format string, args ...interface{}) string {
	return fmt.Sprintf("[req:%s] %s", r.requestID, fmt.Sprintf(format, args...))
}

// Debug logs a request-scoped debug message.
func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.logger.write(LevelDebug, "DEBUG", "%s", r.prefix(format, args...))
}

// Info logs a request-scoped info message.
func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.logger.write(LevelInfo, "INFO", "%s", r.prefix(format, args...))
}

// Warn logs a request-scoped warning.
func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.logger.write(LevelWarn, "WARN", "%s", r.prefix(format, args...))
}

// Error logs a request-scoped error.
func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.logger.write(LevelError, "ERROR", "%s", r.prefix(format, args...))
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Engine logs to the engine category.
func Engine(format string, args ...interface{}) { Get(CategoryEngine).Info(format, args...) }

// EngineDebug logs debug to the engine category.
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

// EngineError logs error to the engine category.
func EngineError(format string, args ...interface{}) { Get(CategoryEngine).Error(format, args...) }

// Rules logs to the rules category.
func Rules(format string, args ...interface{}) { Get(CategoryRules).Info(format, args...) }

// RulesWarn logs warning to the rules category.
func RulesWarn(format string, args ...interface{}) { Get(CategoryRules).Warn(format, args...) }

// Trees logs to the trees category.
func Trees(format string, args ...interface{}) { Get(CategoryTrees).Info(format, args...) }

// TreesWarn logs warning to the trees category.
func TreesWarn(format string, args ...interface{}) { Get(CategoryTrees).Warn(format, args...) }

// Conflicts logs to the conflicts category.
func Conflicts(format string, args ...interface{}) { Get(CategoryConflicts).Info(format, args...) }

// Escalation logs to the escalation category.
func Escalation(format string, args ...interface{}) { Get(CategoryEscalation).Info(format, args...) }

// Worker logs to the worker category.
func Worker(format string, args ...interface{}) { Get(CategoryWorker).Info(format, args...) }

// WorkerError logs error to the worker category.
func WorkerError(format string, args ...interface{}) { Get(CategoryWorker).Error(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }
