// Package collection talks to the external subsystems that run test
// collections and resolve environment variables.
package collection

import (
	"context"
	"time"
)

type Options struct {
	Variables   map[string]string
	ExecutionID string
}

type Result struct {
	TotalRequests  int
	PassedRequests int
	FailedRequests int
	ErrorCount     int
	Logs           []string
	Duration       time.Duration
}

// Executor runs every request of a collection and reports the counts.
// Timeouts are the executor's concern; callers pass no deadline of their own.
type Executor interface {
	ExecuteCollection(ctx context.Context, collectionID, environmentID string, opts Options) (*Result, error)
}

type EnvironmentProvider interface {
	GetEnvironment(ctx context.Context, environmentID string) (map[string]string, error)
}
