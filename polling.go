package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	operationWaitJob    = Operation("job")
)

var errBudgetExhausted = errors.New("wait budget exhausted")

// PollPolicy bounds a wait loop. Every tick consumes Interval from the MaxWait
// budget, whether or not the status query succeeded.
type PollPolicy struct {
	MaxWait  time.Duration
	Interval time.Duration
}

type waitConfig struct {
	onStatus    func(previous, current JobStatus, elapsed time.Duration)
	onTick      func(status JobStatus, elapsed time.Duration)
	onPollError func(err error, elapsed time.Duration)
}

// WaitOption customizes WaitForJob.
type WaitOption func(*waitConfig)

// WithStatusHook is called whenever the observed job status changes.
func WithStatusHook(fn func(previous, current JobStatus, elapsed time.Duration)) WaitOption {
	return func(c *waitConfig) {
		c.onStatus = fn
	}
}

// WithTickHook is called after every successful query that did not end the wait.
func WithTickHook(fn func(status JobStatus, elapsed time.Duration)) WaitOption {
	return func(c *waitConfig) {
		c.onTick = fn
	}
}

// WithPollErrorHook is called when a status query fails and will be retried.
func WithPollErrorHook(fn func(err error, elapsed time.Duration)) WaitOption {
	return func(c *waitConfig) {
		c.onPollError = fn
	}
}

// WaitForJob polls a job until it finishes, fails, the budget runs out or ctx is done.
func (c *client) WaitForJob(ctx context.Context, id string, policy PollPolicy, opts ...WaitOption) (*Job, error) {
	if id == "" {
		return nil, ErrEmptyJobID
	}

	if policy.MaxWait <= 0 {
		policy.MaxWait = c.processingTimeout
	}

	var cfg waitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var last JobStatus
	result, elapsed, err := waitWithPolling(ctx, id, policy, operationWaitJob, c.GetJob,
		func(resp *JobResponse, elapsed time.Duration) (bool, error) {
			job := resp.Data
			if job.Status != last {
				if cfg.onStatus != nil {
					cfg.onStatus(last, job.Status, elapsed)
				}
				last = job.Status
			}

			switch job.Status {
			case JobStatusFinished:
				return true, nil
			case JobStatusError:
				return false, &JobFailedError{JobID: id, Tasks: job.FailedTasks()}
			default:
				if cfg.onTick != nil {
					cfg.onTick(job.Status, elapsed)
				}
				return false, nil
			}
		},
		cfg.onPollError,
	)

	if errors.Is(err, errBudgetExhausted) {
		return nil, &TimeoutError{JobID: id, LastStatus: last, Elapsed: elapsed}
	}
	if err != nil {
		return nil, err
	}

	return result.Data, nil
}

// withDefaultTimeout wraps the context with the provided timeout if it lacks a deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	if timeout <= 0 {
		timeout = ProcessingTimeout
	}

	return context.WithTimeout(ctx, timeout)
}

// waitWithPolling sleeps one interval, fetches, and evaluates until evaluate reports
// completion or an error, or the budget is spent. Fetch failures are retried on the
// next tick unless ctx itself is done.
func waitWithPolling[T any](ctx context.Context, id string, policy PollPolicy, operation Operation,
	fetch func(context.Context, string) (*T, error),
	evaluate func(*T, time.Duration) (bool, error),
	onFetchError func(error, time.Duration),
) (*T, time.Duration, error) {
	interval := policy.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var elapsed time.Duration
	for elapsed < policy.MaxWait {
		if err := waitForNextPoll(ctx, ticker, operation); err != nil {
			return nil, elapsed, err
		}
		elapsed += interval

		result, err := fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, elapsed, fmt.Errorf("waiting for %s cancelled: %w", operation, ctx.Err())
			}
			if onFetchError != nil {
				onFetchError(err, elapsed)
			}
			continue
		}

		done, evalErr := evaluate(result, elapsed)
		if evalErr != nil {
			return nil, elapsed, evalErr
		}
		if done {
			return result, elapsed, nil
		}
	}

	return nil, elapsed, errBudgetExhausted
}

// waitForNextPoll blocks until the next ticker pulse or context cancellation.
func waitForNextPoll(ctx context.Context, ticker *time.Ticker, operation Operation) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s cancelled: %w", operation, ctx.Err())
	case <-ticker.C:
		return nil
	}
}
