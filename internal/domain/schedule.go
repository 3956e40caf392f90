package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCronExpr  = errors.New("invalid cron expression")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrInvalidStatus    = errors.New("invalid schedule status")
)

// Retry policy shared by every schedule.
const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 5 * time.Minute
	DefaultTimezone      = "UTC"
)

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	ScheduleInactive ScheduleStatus = "inactive"
	SchedulePaused   ScheduleStatus = "paused"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleActive, ScheduleInactive, SchedulePaused:
		return true
	}
	return false
}

type Schedule struct {
	ID            string
	WorkspaceID   string
	Name          string
	CollectionID  string
	EnvironmentID string
	CronExpr      string
	Timezone      string
	Status        ScheduleStatus
	LastRunAt     *time.Time
	NextRunAt     *time.Time // nil while the schedule is not active
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Schedule) Active() bool { return s.Status == ScheduleActive }

// Clone returns a deep copy so stores and callers never share pointers.
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	if s.NextRunAt != nil {
		t := *s.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}
