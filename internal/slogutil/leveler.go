package slogutil

import (
	"log/slog"
	"sync/atomic"
)

// DynamicLeveler is a slog.Leveler whose level can be swapped at runtime.
// The zero value reports LevelInfo.
type DynamicLeveler struct {
	level atomic.Value
}

// Level returns the current logging level.
func (dl *DynamicLeveler) Level() slog.Level {
	if v, ok := dl.level.Load().(slog.Level); ok {
		return v
	}
	return slog.LevelInfo
}

// SetLevel updates the logging level.
func (dl *DynamicLeveler) SetLevel(level slog.Level) {
	dl.level.Store(level)
}
