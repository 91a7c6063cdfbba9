// Package logging provides categorized logging for webforge, backed by zap.
// Each subsystem logs under its own named category so a UI log pane (or a
// debugging session) can filter the pipeline stage it cares about.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a pipeline subsystem.
type Category string

const (
	CategoryBoot    Category = "boot"    // Startup and configuration loading
	CategoryLLM     Category = "llm"     // Model transport calls
	CategoryParser  Category = "parser"  // Response parsing
	CategoryDeps    Category = "deps"    // Dependency classification and install
	CategoryApply   Category = "apply"   // File writes and source rewrites
	CategoryRepair  Category = "repair"  // Project repair fixups
	CategoryPreview Category = "preview" // Dev server supervision
	CategoryLoop    Category = "loop"    // Orchestration / auto-fix cycle
	CategoryProject Category = "project" // Manifest reading and watching
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	sugared = map[Category]*zap.SugaredLogger{}
	skipped = map[Category]*zap.SugaredLogger{}
)

// Init installs the process-wide root logger. Call once at startup; before
// Init all logging is a no-op, which keeps library use in tests silent.
func Init(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	sugared = map[Category]*zap.SugaredLogger{}
	skipped = map[Category]*zap.SugaredLogger{}
}

// NewDevelopment builds a console logger at the given level. Used by the CLI
// when no custom zap config is supplied.
func NewDevelopment(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// Get returns the sugared logger for a category. Caller annotation points at
// the call site, so Get is the right entry point for direct use; the
// package-level wrappers below go through wrapped instead.
func Get(cat Category) *zap.SugaredLogger {
	return cached(cat, false)
}

// wrapped is the variant behind the printf wrappers; the extra caller skip
// steps over the wrapper frame.
func wrapped(cat Category) *zap.SugaredLogger {
	return cached(cat, true)
}

func cached(cat Category, skip bool) *zap.SugaredLogger {
	pick := func() map[Category]*zap.SugaredLogger {
		if skip {
			return skipped
		}
		return sugared
	}

	mu.RLock()
	if l, ok := pick()[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := pick()[cat]; ok {
		return l
	}
	named := root.Named(string(cat))
	if skip {
		named = named.WithOptions(zap.AddCallerSkip(1))
	}
	l := named.Sugar()
	pick()[cat] = l
	return l
}

// Sync flushes buffered log entries. Safe to call on a no-op root.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Convenience wrappers for the chattiest categories. These mirror the
// printf-style call sites used throughout the pipeline packages.

func Preview(format string, args ...interface{}) { wrapped(CategoryPreview).Infof(format, args...) }
func PreviewDebug(format string, args ...interface{}) {
	wrapped(CategoryPreview).Debugf(format, args...)
}
func PreviewError(format string, args ...interface{}) {
	wrapped(CategoryPreview).Errorf(format, args...)
}

func Repair(format string, args ...interface{})     { wrapped(CategoryRepair).Infof(format, args...) }
func RepairWarn(format string, args ...interface{}) { wrapped(CategoryRepair).Warnf(format, args...) }

func Apply(format string, args ...interface{})      { wrapped(CategoryApply).Infof(format, args...) }
func ApplyDebug(format string, args ...interface{}) { wrapped(CategoryApply).Debugf(format, args...) }

func Deps(format string, args ...interface{})     { wrapped(CategoryDeps).Infof(format, args...) }
func DepsWarn(format string, args ...interface{}) { wrapped(CategoryDeps).Warnf(format, args...) }

func Loop(format string, args ...interface{})     { wrapped(CategoryLoop).Infof(format, args...) }
func LoopWarn(format string, args ...interface{}) { wrapped(CategoryLoop).Warnf(format, args...) }
