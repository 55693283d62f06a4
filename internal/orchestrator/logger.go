package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pkgLogger is shared with components (graph, scheduler) that have no direct
// handle on the orchestrator's logger.
var (
	pkgLogger   *DebugLogger
	pkgLoggerMu sync.RWMutex
)

func setPackageLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

// debugLog writes through the package-level logger, if one is installed.
func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()

	if l != nil {
		l.Log(format, args...)
	}
}

// DebugLogger appends timestamped lines to a per-run log file. A nil logger
// and a logger without a file are both valid no-ops.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLoggerForRun opens the run's debug log under dataDir/logs. Any
// failure, or an empty dataDir, yields a no-op logger; debug logging never
// blocks a run.
func NewDebugLoggerForRun(dataDir, runID string) *DebugLogger {
	if dataDir == "" {
		return &DebugLogger{}
	}

	logPath := filepath.Join(dataDir, "logs", runID+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return &DebugLogger{}
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &DebugLogger{}
	}

	l := &DebugLogger{file: f}
	l.Log("=== run %s debug log started at %s ===", runID, time.Now().Format(time.RFC3339))
	return l
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.file, "[%s] %s\n",
		time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	l.file.Sync()
}

// Close closes the underlying file.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}
