// Package logging provides categorized logging for vizguard on top of zap.
// Each category is a named child of the root logger; categories can be
// switched off from config, in which case Get returns a no-op logger.
package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config loading
	CategoryPipeline Category = "pipeline" // Repair orchestrator transitions
	CategoryExtract  Category = "extract"  // Candidate extraction from model text
	CategoryValidate Category = "validate" // Proposal contract validation
	CategorySecurity Category = "security" // Snippet policy evaluation
	CategorySandbox  Category = "sandbox"  // Worker lifecycle and execution
	CategoryAPI      Category = "api"      // Model calls
	CategoryDataset  Category = "dataset"  // Dataset loading and inference
)

// Options configures Initialize. It mirrors config.LoggingConfig to avoid
// an import cycle.
type Options struct {
	Level      string
	Categories map[string]bool
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	root     = zap.NewNop()
	disabled = map[Category]bool{}
	loggers  = map[Category]*Logger{}
)

// Initialize installs base as the root logger. Safe to call more than once;
// cached category loggers are dropped.
func Initialize(base *zap.Logger, opts Options) {
	mu.Lock()
	defer mu.Unlock()

	if base == nil {
		base = zap.NewNop()
	}
	if opts.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(opts.Level)); err == nil {
			base = base.WithOptions(zap.IncreaseLevel(lvl))
		}
	}

	root = base
	disabled = make(map[Category]bool, len(opts.Categories))
	for name, on := range opts.Categories {
		if !on {
			disabled[Category(name)] = true
		}
	}
	loggers = make(map[Category]*Logger)
}

// Root returns the root zap logger.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Root().Sync()
}

// IsCategoryEnabled reports whether a category produces output.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return !disabled[category]
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	base := root
	if disabled[category] {
		base = zap.NewNop()
	}
	l := &Logger{category: category, sugar: base.Named(string(category)).Sugar()}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Category shortcuts

func Boot(format string, args ...interface{})          { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{})     { Get(CategoryBoot).Debug(format, args...) }
func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func Extract(format string, args ...interface{})       { Get(CategoryExtract).Info(format, args...) }
func ExtractDebug(format string, args ...interface{})  { Get(CategoryExtract).Debug(format, args...) }
func Validate(format string, args ...interface{})      { Get(CategoryValidate).Info(format, args...) }
func ValidateDebug(format string, args ...interface{}) { Get(CategoryValidate).Debug(format, args...) }
func Security(format string, args ...interface{})      { Get(CategorySecurity).Info(format, args...) }
func SecurityDebug(format string, args ...interface{}) { Get(CategorySecurity).Debug(format, args...) }
func Sandbox(format string, args ...interface{})       { Get(CategorySandbox).Info(format, args...) }
func SandboxDebug(format string, args ...interface{})  { Get(CategorySandbox).Debug(format, args...) }
func API(format string, args ...interface{})           { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{})      { Get(CategoryAPI).Debug(format, args...) }
func Dataset(format string, args ...interface{})       { Get(CategoryDataset).Info(format, args...) }
func DatasetDebug(format string, args ...interface{})  { Get(CategoryDataset).Debug(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures one operation and logs its duration when stopped.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

// Truncate shortens s for log output.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...(%d more bytes)", s[:max], len(s)-max)
}
