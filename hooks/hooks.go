// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.  A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{log: l}
}

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

// Slog returns the underlying logger.
func (s *SlogLogger) Slog() *slog.Logger { return s.log }

func toAttrs(fields []interface{}) []any { return fields }

// ParseLevel maps a configuration level name to a slog.Level.  Unknown names
// map to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each load stage.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStage(_ context.Context, stage core.Stage, key core.Key) {
	h.logger.Debug("load.stage.start",
		"stage", stage,
		"key", keyString(key),
	)
}

func (h *LoggingHook) AfterStage(_ context.Context, stage core.Stage, key core.Key, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("load.stage.error",
			"stage", stage,
			"key", keyString(key),
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	h.logger.Debug("load.stage.done",
		"stage", stage,
		"key", keyString(key),
		"duration_ms", d.Milliseconds(),
	)
}

func keyString(k core.Key) string {
	if k == nil {
		return ""
	}
	return k.String()
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// StageStats aggregates the runs of one stage.
type StageStats struct {
	Calls  int64
	Errors int64
	Total  time.Duration
	Max    time.Duration
}

// Mean is the average duration of a call, or zero before the first one.
func (s StageStats) Mean() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

// MetricsSnapshot is a point-in-time copy of InMemoryMetrics.
type MetricsSnapshot struct {
	Stages           map[core.Stage]StageStats
	ErrorsByCategory map[string]int64
	// Delivered counts resources handed to callers, DeliveredBytes their
	// in-memory size.
	Delivered      int64
	DeliveredBytes int64
}

// InMemoryMetrics is a core.MetricsCollector kept in process memory.  It is
// safe for concurrent use.
type InMemoryMetrics struct {
	mu         sync.Mutex
	stages     map[core.Stage]StageStats
	categories map[string]int64

	delivered atomic.Int64
	bytes     atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stages:     make(map[core.Stage]StageStats),
		categories: make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordStageTime(stage core.Stage, d time.Duration) {
	m.mu.Lock()
	st := m.stages[stage]
	st.Calls++
	st.Total += d
	st.Max = max(st.Max, d)
	m.stages[stage] = st
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordError(stage core.Stage, category string) {
	m.mu.Lock()
	st := m.stages[stage]
	st.Errors++
	m.stages[stage] = st
	m.categories[category]++
	m.mu.Unlock()
}

// RecordBytes records one delivered resource of n bytes.
func (m *InMemoryMetrics) RecordBytes(n int64) {
	m.delivered.Add(1)
	m.bytes.Add(n)
}

func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Stages:           maps.Clone(m.stages),
		ErrorsByCategory: maps.Clone(m.categories),
		Delivered:        m.delivered.Load(),
		DeliveredBytes:   m.bytes.Load(),
	}
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds stage events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStage(context.Context, core.Stage, core.Key) {}

func (h *MetricsHook) AfterStage(_ context.Context, stage core.Stage, _ core.Key, d time.Duration, err error) {
	h.collector.RecordStageTime(stage, d)
	if err != nil {
		h.collector.RecordError(stage, string(apperrors.CategoryOf(err)))
	}
}

var (
	_ core.Logger           = (*SlogLogger)(nil)
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
)
