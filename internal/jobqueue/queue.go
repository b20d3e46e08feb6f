package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Queue dispatches jobs FIFO to registered handlers with at most
// concurrency jobs executing at once. Failed attempts are re-queued after
// the backoff delay until MaxAttempts is reached.
type Queue struct {
	mu       sync.Mutex
	pending  []*Job
	handlers map[string]Handler
	retries  map[*time.Timer]struct{}
	counter  uint64
	stopped  bool

	wake    chan struct{}
	done    chan struct{}
	running sync.WaitGroup
	sem     *semaphore.Weighted

	// abort cancels in-flight jobs when Shutdown runs out of time.
	abort       context.Context
	abortCancel context.CancelFunc

	concurrency int64
	backoff     Backoff
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = int64(n)
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(q *Queue) {
		if b != nil {
			q.backoff = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a queue. Jobs may be enqueued before Run starts dispatching.
func New(opts ...Option) *Queue {
	abort, cancel := context.WithCancel(context.Background())
	q := &Queue{
		handlers:    make(map[string]Handler),
		retries:     make(map[*time.Timer]struct{}),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		abort:       abort,
		abortCancel: cancel,
		concurrency: DefaultConcurrency,
		backoff:     ExponentialBackoff,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.sem = semaphore.NewWeighted(q.concurrency)
	return q
}

// RegisterHandler binds a handler to a job type, replacing any previous one.
func (q *Queue) RegisterHandler(jobType string, h Handler) error {
	if jobType == "" {
		return ErrEmptyType
	}
	if h == nil {
		return ErrNilHandler
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
	return nil
}

// Enqueue adds a job and returns its id. maxAttempts <= 0 means
// DefaultMaxAttempts.
func (q *Queue) Enqueue(jobType string, payload any, maxAttempts int) (string, error) {
	if jobType == "" {
		return "", ErrEmptyType
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", ErrQueueStopped
	}

	q.counter++
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.counter),
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		CreatedAt:   q.now(),
	}
	q.pending = append(q.pending, job)
	q.metrics.incEnqueued(jobType)
	q.signal()
	return job.ID, nil
}

// Pending reports the number of jobs waiting for dispatch, excluding
// scheduled retries.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run dispatches jobs until ctx is cancelled or Shutdown is called. Jobs
// already executing keep running; Shutdown waits for them.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.InfoContext(ctx, "job queue started", "concurrency", q.concurrency)
	for {
		job, ok := q.next(ctx)
		if !ok {
			q.logger.InfoContext(ctx, "job queue dispatch stopped")
			return nil
		}
		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.requeueFront(job)
			return nil
		}
		if !q.track() {
			q.sem.Release(1)
			return nil
		}

		q.metrics.addInFlight(1)
		go func(j *Job) {
			defer q.running.Done()
			defer q.metrics.addInFlight(-1)
			defer q.sem.Release(1)
			q.execute(ctx, j)
		}(job)
	}
}

// Shutdown stops dispatch, drops scheduled retries and waits for executing
// jobs. When ctx expires first, executing jobs are cancelled and ctx's error
// is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for t := range q.retries {
			t.Stop()
		}
		if dropped := len(q.pending) + len(q.retries); dropped > 0 {
			q.logger.WarnContext(ctx, "job queue stopping with unprocessed jobs", "dropped", dropped)
		}
		q.retries = make(map[*time.Timer]struct{})
		q.pending = nil
		close(q.done)
	}
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		q.abortCancel()
		return nil
	case <-ctx.Done():
		q.abortCancel()
		<-finished
		return fmt.Errorf("job queue shutdown: %w", ctx.Err())
	}
}

// next blocks until a job is available or dispatch must stop.
func (q *Queue) next(ctx context.Context) (*Job, bool) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// track registers an executing job unless the queue has stopped, so
// Shutdown never waits on a job it cannot see.
func (q *Queue) track() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.running.Add(1)
	return true
}

func (q *Queue) requeueFront(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.pending = append([]*Job{job}, q.pending...)
	}
}

// signal wakes the dispatcher. Must be called with q.mu held.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) execute(runCtx context.Context, job *Job) {
	q.mu.Lock()
	h, ok := q.handlers[job.Type]
	q.mu.Unlock()
	if !ok {
		q.logger.WarnContext(runCtx, "no handler registered for job type",
			"job_id", job.ID,
			"job_type", job.Type,
		)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(runCtx))
	stop := context.AfterFunc(q.abort, cancel)
	defer stop()
	defer cancel()

	job.Attempts++
	err := invoke(ctx, h, *job)
	if err == nil {
		q.metrics.incCompleted(job.Type)
		if job.Attempts > 1 {
			q.logger.InfoContext(ctx, "job succeeded after retry",
				"job_id", job.ID,
				"job_type", job.Type,
				"attempts", job.Attempts,
			)
		}
		return
	}

	if job.Attempts >= job.MaxAttempts {
		q.metrics.incFailed(job.Type)
		q.logger.ErrorContext(ctx, "job failed permanently",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempts", job.Attempts,
			"error", err,
		)
		return
	}

	delay := q.backoff(job.Attempts)
	q.metrics.incRetried(job.Type)
	q.logger.WarnContext(ctx, "job attempt failed, retrying",
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"retry_in", delay,
		"error", err,
	)
	q.scheduleRetry(job, delay)
}

func (q *Queue) scheduleRetry(job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.retries[t]; !ok {
			return
		}
		delete(q.retries, t)
		q.pending = append(q.pending, job)
		q.signal()
	})
	q.retries[t] = struct{}{}
}

func invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}
