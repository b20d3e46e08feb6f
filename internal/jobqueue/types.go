// Package jobqueue runs typed background jobs in-process with bounded
// concurrency and exponential retry.
//
// The queue is not durable: jobs pending at shutdown are lost. Callers that
// need recovery re-enqueue from their own persisted state at startup.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by queue operations
var (
	ErrQueueStopped = errors.New("job queue has been stopped")
	ErrEmptyType    = errors.New("job type is required")
	ErrNilHandler   = errors.New("cannot register nil handler")
)

const (
	DefaultMaxAttempts = 3
	DefaultConcurrency = 3
)

// Job is one unit of work. Attempts counts executions so far.
type Job struct {
	ID          string
	Type        string
	Payload     any
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
}

// Handler executes a job. A returned error schedules a retry while attempts
// remain.
type Handler func(ctx context.Context, job Job) error

// Backoff returns the delay before the next attempt given the attempts made.
type Backoff func(attempts int) time.Duration

// MaxBackoff caps ExponentialBackoff.
const MaxBackoff = time.Hour

// ExponentialBackoff waits 2^attempts seconds, at most MaxBackoff.
func ExponentialBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 2^12 s already exceeds MaxBackoff; larger shifts would overflow.
	if attempts >= 12 {
		return MaxBackoff
	}
	return min(time.Duration(1<<attempts)*time.Second, MaxBackoff)
}
