package domain

import "time"

// LogLevel is one of the four severities a LogEntry can carry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogSource identifies which part of the pipeline produced a LogEntry.
type LogSource string

const (
	SourceSystem      LogSource = "system"
	SourceApplication LogSource = "application"
	SourceBuild       LogSource = "build"
	SourceDeployment  LogSource = "deployment"
)

// LogEntry is one line in a deployment's log stream.
type LogEntry struct {
	ID           string
	DeploymentID string
	Timestamp    time.Time
	Level        LogLevel
	Source       LogSource
	Message      string
	Data         map[string]interface{}
	Tags         []string
	Sequence     uint64 // per-deployment monotonic insertion index
}

// LogFilter parameterizes LogHub.Query. Filters apply in the order
// listed: level, source, time window, substring search, tag match, tail.
type LogFilter struct {
	Levels    []LogLevel
	Sources   []LogSource
	StartTime time.Time
	EndTime   time.Time
	Search    string
	Tags      []string
	Tail      int // 0 means "no tail slice"
}
