package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// FileLogger appends one JSON line per bus event to a timestamped run log
// under logDir, and maintains a latest.log symlink to the current run —
// the same two conventions the teacher's FileLogger uses, generalized
// from per-call methods to a single bus subscription.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	logLevel string
	mu       sync.Mutex
	unsub    eventbus.Unsubscribe
}

type logRecord struct {
	Time string      `json:"time"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewFileLogger creates logDir if needed, opens a timestamped run log file,
// refreshes the latest.log symlink, and subscribes to every event on bus.
func NewFileLogger(bus *eventbus.Bus, logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log directory: %w", err)
	}

	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.jsonl", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: create run log: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		os.Remove(symlinkPath)
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("logger: create latest.log symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		logLevel: normalizeLogLevel(logLevel),
	}
	if bus != nil {
		fl.unsub = bus.OnAny(fl.handle)
	}
	return fl, nil
}

func (fl *FileLogger) handle(e core.Event) {
	level, ok := eventLevels[e.Type]
	if !ok {
		level = levelInfo
	}
	if level < logLevelToInt(fl.logLevel) {
		return
	}

	record := logRecord{Time: e.Timestamp.Format(time.RFC3339), Type: string(e.Type), Data: e.Payload}
	line, err := json.Marshal(record)
	if err != nil {
		return
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return
	}
	fl.runLog.Write(append(line, '\n'))
	fl.runLog.Sync()
}

// Close unsubscribes from the bus and closes the run log file.
func (fl *FileLogger) Close() error {
	if fl.unsub != nil {
		fl.unsub()
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.runLog == nil {
		return nil
	}
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}
