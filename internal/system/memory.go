// Package system reports process health used by the serve command. The
// memory monitor is advisory: the driver exposes its state but never
// throttles on it.
package system

import (
	"runtime"

	"go.uber.org/zap"
)

// Memory pressure levels.
const (
	LevelOK       = "ok"
	LevelWarn     = "warn"
	LevelCritical = "critical"
)

// Pressure thresholds as a fraction of the configured limit.
const (
	warnThreshold     = 0.80
	criticalThreshold = 0.90
)

// MemoryState is one observation of the monitor.
type MemoryState struct {
	Level      string  `json:"level"`
	UsedBytes  uint64  `json:"used_bytes"`
	LimitBytes uint64  `json:"limit_bytes"`
	UsedRatio  float64 `json:"used_ratio"`
}

// MemoryMonitor samples heap usage against a fixed byte limit.
type MemoryMonitor struct {
	limit  uint64
	read   func() uint64
	logger *zap.Logger
}

// NewMemoryMonitor builds a monitor with the given byte limit. A zero
// limit disables pressure reporting (always ok).
func NewMemoryMonitor(limitBytes uint64, logger *zap.Logger) *MemoryMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryMonitor{
		limit:  limitBytes,
		read:   heapInUse,
		logger: logger.Named("memory"),
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// State samples current usage and classifies it.
func (m *MemoryMonitor) State() MemoryState {
	used := m.read()
	st := MemoryState{Level: LevelOK, UsedBytes: used, LimitBytes: m.limit}
	if m.limit == 0 {
		return st
	}
	st.UsedRatio = float64(used) / float64(m.limit)
	switch {
	case st.UsedRatio >= criticalThreshold:
		st.Level = LevelCritical
		m.logger.Warn("memory pressure critical",
			zap.Uint64("used", used), zap.Uint64("limit", m.limit))
	case st.UsedRatio >= warnThreshold:
		st.Level = LevelWarn
		m.logger.Warn("memory pressure elevated",
			zap.Uint64("used", used), zap.Uint64("limit", m.limit))
	}
	return st
}
