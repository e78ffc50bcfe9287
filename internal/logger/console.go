// Package logger provides logging implementations for a Nexus run.
//
// Unlike the teacher's console logger, which every component calls
// directly (LogWaveStart, LogTaskResult, ...), Nexus's loggers subscribe
// to the EventBus and render whatever crosses it. A component that emits
// an event is automatically observable by any logger wired to the bus,
// without either side importing the other.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// Log level constants for filtering.
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

var eventLevels = map[core.EventType]int{
	"qa:step-completed":     levelDebug,
	"review:requested":      levelInfo,
	"review:approved":       levelInfo,
	"review:rejected":       levelInfo,
	"review:orphaned":       levelWarn,
	"agent:error":           levelError,
	"system:error":          levelError,
	"task:failed":           levelError,
	"project:failed":        levelError,
	"task:merge-failed":     levelError,
	"worktree:create-failed": levelError,
	"task:push-failed":      levelWarn,
	"qaloop:escalated":      levelWarn,
	"coordinator:paused":    levelWarn,
}

// ConsoleLogger renders Nexus bus events to a writer with "[HH:MM:SS]"
// timestamps, filtered by log level, color-coded when the writer is a
// terminal. Thread-safe, matching internal/logger's teacher-era
// ConsoleLogger.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	unsub       eventbus.Unsubscribe
}

// NewConsoleLogger builds a ConsoleLogger writing to w and subscribes it
// to every event on bus. If w is nil, events are silently discarded.
func NewConsoleLogger(bus *eventbus.Bus, w io.Writer, logLevel string) *ConsoleLogger {
	cl := &ConsoleLogger{
		writer:      w,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(w),
	}
	if bus != nil {
		cl.unsub = bus.OnAny(cl.handle)
	}
	return cl
}

// Close unsubscribes the logger from its bus.
func (cl *ConsoleLogger) Close() {
	if cl.unsub != nil {
		cl.unsub()
	}
}

func isTerminal(w io.Writer) bool {
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "error":
		return strings.ToLower(level)
	default:
		return "info"
	}
}

func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(level int) bool {
	return level >= logLevelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) handle(e core.Event) {
	if cl.writer == nil {
		return
	}
	level, ok := eventLevels[e.Type]
	if !ok {
		level = levelInfo
	}
	if !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(cl.format(e, level)))
}

func (cl *ConsoleLogger) format(e core.Event, level int) string {
	ts := timestamp()
	line := describeEvent(e)
	if !cl.colorOutput {
		return fmt.Sprintf("[%s] %s\n", ts, line)
	}

	var c *color.Color
	switch level {
	case levelError:
		c = color.New(color.FgRed)
	case levelWarn:
		c = color.New(color.FgYellow)
	case levelDebug, levelTrace:
		c = color.New(color.FgHiBlack)
	default:
		c = color.New(color.FgBlue)
	}
	prefix := color.New(color.FgCyan).Sprint(string(e.Type))
	return fmt.Sprintf("[%s] %s %s\n", ts, prefix, c.Sprint(line))
}

// describeEvent renders an event's payload into a one-line human-readable
// description. Falls back to a generic %v dump for event types without a
// specific format, so a newly added event type is never silently dropped.
func describeEvent(e core.Event) string {
	payload, _ := e.Payload.(map[string]interface{})

	switch e.Type {
	case "wave:started":
		return fmt.Sprintf("wave %v starting", payload["waveId"])
	case "wave:completed":
		return fmt.Sprintf("wave %v complete", payload["waveId"])
	case "task:started":
		return fmt.Sprintf("task %v started (agent %v)", payload["taskId"], payload["agentId"])
	case "task:completed":
		return fmt.Sprintf("task %v completed", payload["taskId"])
	case "task:failed":
		return fmt.Sprintf("task %v failed: %v", payload["taskId"], firstNonEmpty(payload["error"], payload["reason"]))
	case "task:escalated":
		return fmt.Sprintf("task %v escalated to human review (%v): %v", payload["taskId"], payload["reason"], payload["context"])
	case "task:merged":
		return fmt.Sprintf("task %v merged", payload["taskId"])
	case "task:merge-failed":
		return fmt.Sprintf("task %v merge failed: %v", payload["taskId"], payload["error"])
	case "qaloop:passed":
		return fmt.Sprintf("task %v passed QA on iteration %v", payload["taskId"], payload["iteration"])
	case "qaloop:escalated":
		return fmt.Sprintf("task %v exhausted QA after %v iterations", payload["taskId"], payload["iteration"])
	case "review:requested":
		if r, ok := e.Payload.(core.Review); ok {
			return fmt.Sprintf("review %s requested for task %s (%s)", r.ID, r.TaskID, r.Reason)
		}
	case "review:approved", "review:rejected":
		if r, ok := e.Payload.(core.Review); ok {
			return fmt.Sprintf("review %s for task %s: %s", r.ID, r.TaskID, r.Status)
		}
	case "agent:spawned":
		if a, ok := e.Payload.(core.Agent); ok {
			return fmt.Sprintf("agent %s (%s) spawned", a.ID, a.Type)
		}
	case "agent:released":
		return fmt.Sprintf("agent %v released", e.Payload)
	case "agent:error":
		return fmt.Sprintf("agent error: %v", payload["error"])
	case "planning:started":
		return fmt.Sprintf("planning started for project %v (%v features)", payload["projectId"], payload["featureCount"])
	case "planning:completed":
		return fmt.Sprintf("planning complete for project %v (%v tasks)", payload["projectId"], payload["taskCount"])
	case "project:completed":
		return fmt.Sprintf("project %v completed (%v tasks completed across %v waves)", payload["projectId"], payload["completedTasks"], payload["totalWaves"])
	case "project:failed":
		return fmt.Sprintf("project %v failed: %v", payload["projectId"], payload["error"])
	case "coordinator:paused":
		return fmt.Sprintf("coordinator paused: %v", payload["reason"])
	case "coordinator:resumed":
		return "coordinator resumed"
	case "system:checkpoint-created":
		return fmt.Sprintf("checkpoint created: %v", e.Payload)
	case "system:error":
		return fmt.Sprintf("error in %v: %v", payload["component"], payload["error"])
	}

	if payload != nil {
		return fmt.Sprintf("%s %v", e.Type, payload)
	}
	return fmt.Sprintf("%s %v", e.Type, e.Payload)
}

func firstNonEmpty(vals ...interface{}) interface{} {
	for _, v := range vals {
		if s, ok := v.(string); ok {
			if s != "" {
				return s
			}
			continue
		}
		if v != nil {
			return v
		}
	}
	return ""
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
