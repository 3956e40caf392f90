package log

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestIDKey   struct{}
	scheduleIDKey  struct{}
	executionIDKey struct{}
)

// NewRequestID generates a random UUID v4 request ID.
func NewRequestID() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithExecution tags ctx so every record logged through it carries the
// schedule and execution ids. Empty ids are not attached.
func WithExecution(ctx context.Context, scheduleID, executionID string) context.Context {
	if scheduleID != "" {
		ctx = context.WithValue(ctx, scheduleIDKey{}, scheduleID)
	}
	if executionID != "" {
		ctx = context.WithValue(ctx, executionIDKey{}, executionID)
	}
	return ctx
}

func ScheduleID(ctx context.Context) string {
	id, _ := ctx.Value(scheduleIDKey{}).(string)
	return id
}

func ExecutionID(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey{}).(string)
	return id
}
