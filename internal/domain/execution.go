package domain

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrExecutionFailed     = errors.New("execution failed")
)

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed || s == ExecutionCancelled
}

func (s ExecutionStatus) Valid() bool {
	return s == ExecutionRunning || s.Terminal()
}

// Trigger records why an execution started. It is provenance, not state.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerRetry    Trigger = "retry"
	TriggerRecovery Trigger = "recovery"
)

type Execution struct {
	ID            string
	ScheduleID    string
	WorkspaceID   string
	CollectionID  string
	EnvironmentID string

	Status      ExecutionStatus
	TriggeredBy Trigger

	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  *int64

	TotalRequests  int
	PassedRequests int
	FailedRequests int
	ErrorCount     int
	Logs           []string

	Metadata Metadata
}

func (e *Execution) Clone() *Execution {
	c := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.DurationMS != nil {
		d := *e.DurationMS
		c.DurationMS = &d
	}
	c.Logs = slices.Clone(e.Logs)
	c.Metadata = e.Metadata.Clone()
	return &c
}

// Finish stamps the completion time and duration.
func (e *Execution) Finish(status ExecutionStatus, at time.Time) {
	d := at.Sub(e.StartedAt).Milliseconds()
	e.Status = status
	e.CompletedAt = &at
	e.DurationMS = &d
}

// Well-known metadata keys.
const (
	MetaRetryCount  = "retryCount"
	MetaNextRetryAt = "nextRetryAt"
	MetaError       = "error"
	MetaTriggeredBy = "triggeredBy"
	MetaRetryOf     = "retryOf"
	MetaRecoveryFor = "recoveryFor"
	MetaDryRun      = "dryRun"
)

// Metadata is the free-form JSON map attached to an execution. Values read
// back from a JSON store lose their Go types, so the accessors accept both
// the native and the decoded representation.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func (m Metadata) RetryCount() int {
	switch v := m[MetaRetryCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (m Metadata) NextRetryAt() (time.Time, bool) {
	return m.time(MetaNextRetryAt)
}

func (m Metadata) RecoveryFor() (time.Time, bool) {
	return m.time(MetaRecoveryFor)
}

func (m Metadata) Error() string {
	s, _ := m[MetaError].(string)
	return s
}

func (m Metadata) RetryOf() string {
	s, _ := m[MetaRetryOf].(string)
	return s
}

func (m Metadata) time(key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case *time.Time:
		if v != nil {
			return *v, true
		}
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
