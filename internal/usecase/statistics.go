package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/run-orchestrator/internal/domain"
	"github.com/ErlanBelekov/run-orchestrator/internal/repository"
)

const trendDays = 7

type Statistics struct {
	TotalSchedules       int
	ActiveSchedules      int
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	// AverageExecutionTime is taken over executions that recorded a duration.
	AverageExecutionTime time.Duration
	ByCollection         map[string]int
	ByEnvironment        map[string]int
	ByStatus             map[domain.ExecutionStatus]int
	Trends               []DailyTrend
}

// DailyTrend buckets executions by the UTC day they started.
type DailyTrend struct {
	Date       string // YYYY-MM-DD
	Total      int
	Successful int
	Failed     int
}

// GetStatistics aggregates straight from the store on every call, so
// records rewritten by recovery are always reflected.
func (u *ScheduleUsecase) GetStatistics(ctx context.Context, workspaceID string) (*Statistics, error) {
	schedules, err := u.schedules.List(ctx, repository.ListSchedulesInput{WorkspaceID: workspaceID})
	if err != nil {
		return nil, fmt.Errorf("statistics: list schedules: %w", err)
	}
	executions, err := u.executions.List(ctx, repository.ListExecutionsInput{WorkspaceID: workspaceID})
	if err != nil {
		return nil, fmt.Errorf("statistics: list executions: %w", err)
	}
	return aggregate(schedules, executions, u.now()), nil
}

func aggregate(schedules []*domain.Schedule, executions []*domain.Execution, now time.Time) *Statistics {
	st := &Statistics{
		TotalSchedules:  len(schedules),
		TotalExecutions: len(executions),
		ByCollection:    make(map[string]int),
		ByEnvironment:   make(map[string]int),
		ByStatus:        make(map[domain.ExecutionStatus]int),
		Trends:          make([]DailyTrend, trendDays),
	}
	for _, s := range schedules {
		if s.Active() {
			st.ActiveSchedules++
		}
	}

	today := now.UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(trendDays - 1))
	for i := range st.Trends {
		st.Trends[i].Date = first.AddDate(0, 0, i).Format(time.DateOnly)
	}

	var (
		totalMS int64
		timed   int64
	)
	for _, e := range executions {
		st.ByStatus[e.Status]++
		if e.CollectionID != "" {
			st.ByCollection[e.CollectionID]++
		}
		if e.EnvironmentID != "" {
			st.ByEnvironment[e.EnvironmentID]++
		}
		switch e.Status {
		case domain.ExecutionSuccess:
			st.SuccessfulExecutions++
		case domain.ExecutionFailed:
			st.FailedExecutions++
		}
		if e.DurationMS != nil {
			totalMS += *e.DurationMS
			timed++
		}

		day := int(e.StartedAt.UTC().Sub(first) / (24 * time.Hour))
		if e.StartedAt.Before(first) || day >= trendDays {
			continue
		}
		t := &st.Trends[day]
		t.Total++
		switch e.Status {
		case domain.ExecutionSuccess:
			t.Successful++
		case domain.ExecutionFailed:
			t.Failed++
		}
	}
	if timed > 0 {
		st.AverageExecutionTime = time.Duration(totalMS/timed) * time.Millisecond
	}
	return st
}
