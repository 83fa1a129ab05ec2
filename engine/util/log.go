package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogCategory int

const (
	LogVoxel LogCategory = 1 << iota
	LogWorker
	LogIO
	LogSystem
)

const LogAll = LogVoxel | LogWorker | LogIO | LogSystem

func (c LogCategory) String() string {
	switch c {
	case LogVoxel:
		return "voxel"
	case LogWorker:
		return "worker"
	case LogIO:
		return "io"
	case LogSystem:
		return "system"
	}
	return "mixed"
}

var (
	logMu         sync.RWMutex
	logBase       = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logCategories = LogAll
	discard       = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// SetupLogging replaces the base logger. Only categories in cats produce output.
func SetupLogging(w io.Writer, level slog.Level, cats LogCategory) {
	logMu.Lock()
	defer logMu.Unlock()
	logBase = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	logCategories = cats
}

// ParseLogLevel maps "debug", "info", "warn" and "error" to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ParseLogCategories maps category names to a category set. Unknown names are
// ignored; an empty list enables every category.
func ParseLogCategories(names []string) LogCategory {
	if len(names) == 0 {
		return LogAll
	}
	var cats LogCategory
	for _, name := range names {
		for _, c := range []LogCategory{LogVoxel, LogWorker, LogIO, LogSystem} {
			if strings.EqualFold(strings.TrimSpace(name), c.String()) {
				cats |= c
			}
		}
	}
	return cats
}

// Logger returns the logger for a category. Disabled categories get a logger that drops everything.
func Logger(cat LogCategory) *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if logCategories&cat == 0 {
		return discard
	}
	return logBase.With("category", cat.String())
}

func LogVoxelInfo(msg string, args ...any) {
	Logger(LogVoxel).Info(msg, args...)
}

func LogIOInfo(msg string, args ...any) {
	Logger(LogIO).Info(msg, args...)
}

func LogSystemInfo(msg string, args ...any) {
	Logger(LogSystem).Info(msg, args...)
}

func LogSystemError(msg string, args ...any) {
	Logger(LogSystem).Error(msg, args...)
}
