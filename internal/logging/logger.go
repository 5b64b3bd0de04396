// Package logging provides categorized logging for flightlens.
// Every subsystem logs through a named category so that a single noisy
// component (usually the LLM gateway) can be silenced without losing the
// rest. Output goes through zap; the level is set once at startup.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and shutdown
	CategoryServer    Category = "server"    // HTTP surface
	CategorySession   Category = "session"   // Session registry, TTL eviction
	CategoryIngest    Category = "ingest"    // Log ingestion, schema inference
	CategoryTabular   Category = "tabular"   // Tabular store operations
	CategoryDocs      Category = "docs"      // Doc index, chunking, cache
	CategoryEmbedding Category = "embedding" // Embedding engine
	CategoryLLM       Category = "llm"       // LLM gateway calls
	CategoryTools     Category = "tools"     // Tool runtime dispatch
	CategoryValidator Category = "validator" // Query validation
	CategorySafety    Category = "safety"    // Injection detection, answer classification
	CategoryAgent     Category = "agent"     // Agent controller state machine
)

var (
	mu      sync.RWMutex
	base    *zap.SugaredLogger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize sets up the zap backend. level is one of debug/info/warn/error;
// anything else falls back to info. Safe to call more than once (tests).
func Initialize(level string, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	base = logger.Sugar()
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the logger for a category, creating it on first use.
// Before Initialize it returns a no-op logger so early callers are safe.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	b := base
	mu.RUnlock()

	if b == nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := b.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		_ = base.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Infof(format, args...) }

// Server logs to the server category.
func Server(format string, args ...interface{}) { Get(CategoryServer).Infof(format, args...) }

// Session logs to the session category.
func Session(format string, args ...interface{}) { Get(CategorySession).Infof(format, args...) }

// SessionDebug logs debug to the session category.
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debugf(format, args...) }

// Ingest logs to the ingest category.
func Ingest(format string, args ...interface{}) { Get(CategoryIngest).Infof(format, args...) }

// IngestWarn logs a warning to the ingest category.
func IngestWarn(format string, args ...interface{}) { Get(CategoryIngest).Warnf(format, args...) }

// Tabular logs to the tabular category.
func Tabular(format string, args ...interface{}) { Get(CategoryTabular).Infof(format, args...) }

// TabularDebug logs debug to the tabular category.
func TabularDebug(format string, args ...interface{}) { Get(CategoryTabular).Debugf(format, args...) }

// Docs logs to the docs category.
func Docs(format string, args ...interface{}) { Get(CategoryDocs).Infof(format, args...) }

// DocsDebug logs debug to the docs category.
func DocsDebug(format string, args ...interface{}) { Get(CategoryDocs).Debugf(format, args...) }

// Embedding logs to the embedding category.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Infof(format, args...) }

// EmbeddingDebug logs debug to the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debugf(format, args...)
}

// LLM logs to the llm category.
func LLM(format string, args ...interface{}) { Get(CategoryLLM).Infof(format, args...) }

// LLMDebug logs debug to the llm category.
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debugf(format, args...) }

// LLMError logs an error to the llm category.
func LLMError(format string, args ...interface{}) { Get(CategoryLLM).Errorf(format, args...) }

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) { Get(CategoryTools).Infof(format, args...) }

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debugf(format, args...) }

// Validator logs to the validator category.
func Validator(format string, args ...interface{}) { Get(CategoryValidator).Infof(format, args...) }

// Safety logs to the safety category.
func Safety(format string, args ...interface{}) { Get(CategorySafety).Infof(format, args...) }

// SafetyWarn logs a warning to the safety category.
func SafetyWarn(format string, args ...interface{}) { Get(CategorySafety).Warnf(format, args...) }

// Agent logs to the agent category.
func Agent(format string, args ...interface{}) { Get(CategoryAgent).Infof(format, args...) }

// AgentDebug logs debug to the agent category.
func AgentDebug(format string, args ...interface{}) { Get(CategoryAgent).Debugf(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
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
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
