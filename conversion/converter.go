package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	client "github.com/hsn0918/fileconv"
)

const (
	DefaultDownloadTimeout = 300 * time.Second
	DefaultCleanupTimeout  = 15 * time.Second
)

// Outcome is a successful conversion.
type Outcome struct {
	Path  string // OutputPrefix plus the family's result extension
	Size  int64
	JobID string
}

// Converter drives one remote job per Convert call. It holds no per-conversion
// state, so concurrent calls are independent.
type Converter struct {
	client          client.Client
	strategies      map[Family]Strategy
	observer        Observer
	limiter         *rate.Limiter
	downloadTimeout time.Duration
	cleanupTimeout  time.Duration
}

type Option func(*Converter)

// WithObserver adds observers receiving lifecycle events.
func WithObserver(observers ...Observer) Option {
	return func(c *Converter) {
		c.observer = MultiObserver(append([]Observer{c.observer}, observers...)...)
	}
}

// WithTiming overrides the non-zero fields of a family's timing policy.
func WithTiming(family Family, timing Timing) Option {
	return func(c *Converter) {
		s, ok := c.strategies[family]
		if !ok {
			return
		}
		c.strategies[family] = timedStrategy{Strategy: s, timing: s.Timing().merge(timing)}
	}
}

// WithRateLimit spaces job submissions by interval, allowing bursts of maxBurst.
func WithRateLimit(interval time.Duration, maxBurst int) Option {
	return func(c *Converter) {
		if interval <= 0 {
			return
		}
		if maxBurst < 1 {
			maxBurst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), maxBurst)
	}
}

func WithDownloadTimeout(timeout time.Duration) Option {
	return func(c *Converter) {
		if timeout > 0 {
			c.downloadTimeout = timeout
		}
	}
}

// WithCleanupTimeout bounds the deletion of jobs abandoned on cancellation or timeout.
func WithCleanupTimeout(timeout time.Duration) Option {
	return func(c *Converter) {
		if timeout > 0 {
			c.cleanupTimeout = timeout
		}
	}
}

func NewConverter(cli client.Client, opts ...Option) *Converter {
	c := &Converter{
		client:          cli,
		strategies:      defaultStrategies(),
		downloadTimeout: DefaultDownloadTimeout,
		cleanupTimeout:  DefaultCleanupTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.observer == nil {
		c.observer = MultiObserver()
	}

	return c
}

// Strategy returns the strategy serving a family, timing overrides applied.
func (c *Converter) Strategy(family Family) (Strategy, bool) {
	s, ok := c.strategies[family]
	return s, ok
}

type runState struct {
	family     Family
	input      string
	inputSize  int64
	jobID      string
	cleanupErr error
}

func (st *runState) event(kind EventKind) Event {
	return Event{
		Kind:      kind,
		Time:      time.Now(),
		Family:    st.family,
		JobID:     st.jobID,
		Input:     st.input,
		InputSize: st.inputSize,
	}
}

// Convert runs req through the family's remote flow and blocks until the artifact
// is written, the job fails, the wait budget is spent or ctx is done. Every error
// is a *Error. A job abandoned by cancellation or timeout is deleted remotely.
func (c *Converter) Convert(ctx context.Context, family Family, req Request) (Outcome, error) {
	started := time.Now()
	st := &runState{family: family, input: req.InputPath}

	out, err := c.run(ctx, st, req)
	if err == nil {
		return out, nil
	}

	stage := StageOf(err)
	if st.jobID != "" && (stage == StageCanceled || stage == StageTimeout) {
		st.cleanupErr = c.abandon(ctx, st.jobID)
	}

	e := st.event(EventFailed)
	e.Stage = stage
	e.Err = err
	e.CleanupErr = st.cleanupErr
	e.Duration = time.Since(started)
	c.observer.Observe(ctx, e)

	return Outcome{}, err
}

func (c *Converter) run(ctx context.Context, st *runState, req Request) (Outcome, error) {
	started := time.Now()

	fail := func(stage Stage, err error) error {
		if ctx.Err() != nil && stage != StageConfiguration && stage != StagePrecondition {
			stage = StageCanceled
		}
		return &Error{Stage: stage, Family: st.family, JobID: st.jobID, Err: err}
	}

	strategy, ok := c.strategies[st.family]
	if !ok {
		return Outcome{}, fail(StageConfiguration, fmt.Errorf("%w: %q", ErrUnsupportedFamily, st.family))
	}

	if !c.client.Authenticated() {
		return Outcome{}, fail(StageConfiguration, client.ErrMissingAPIKey)
	}

	if req.OutputPrefix == "" {
		return Outcome{}, fail(StagePrecondition, ErrEmptyOutputPrefix)
	}

	size, err := inspectInput(req.InputPath)
	if err != nil {
		return Outcome{}, fail(StagePrecondition, err)
	}
	st.inputSize = size

	if err := strategy.Validate(req, size); err != nil {
		return Outcome{}, fail(StagePrecondition, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{}, fail(StageSubmission, fmt.Errorf("wait for submission slot: %w", err))
		}
	}

	created, err := c.client.CreateJob(ctx, strategy.JobSpec(req))
	if err != nil {
		return Outcome{}, fail(StageSubmission, err)
	}
	st.jobID = created.Data.ID
	c.observer.Observe(ctx, st.event(EventSubmitted))

	form, err := uploadForm(created.Data, strategy.ImportTask())
	if err != nil {
		return Outcome{}, fail(StageSubmission, err)
	}

	if err := c.upload(ctx, strategy, form, req); err != nil {
		return Outcome{}, fail(StageUpload, err)
	}
	c.observer.Observe(ctx, st.event(EventUploaded))

	job, err := c.wait(ctx, st, strategy.Timing())
	if err != nil {
		if errors.Is(err, client.ErrJobTimeout) {
			return Outcome{}, fail(StageTimeout, err)
		}
		return Outcome{}, fail(StageRemoteJob, err)
	}

	url, err := exportURL(job, strategy.ExportTask())
	if err != nil {
		return Outcome{}, fail(StageExport, err)
	}

	output := req.OutputPrefix + "." + strategy.ResultExtension()

	dctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	written, err := c.client.DownloadToPath(dctx, url, output)
	if err != nil {
		return Outcome{}, fail(StageDownload, err)
	}

	done := st.event(EventCompleted)
	done.Output = output
	done.OutputSize = written
	done.Duration = time.Since(started)
	c.observer.Observe(ctx, done)

	return Outcome{Path: output, Size: written, JobID: st.jobID}, nil
}

func (c *Converter) upload(ctx context.Context, strategy Strategy, form client.UploadForm, req Request) error {
	if timeout := strategy.Timing().UploadTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return c.client.UploadFile(ctx, form, strategy.Upload(req))
}

func (c *Converter) wait(ctx context.Context, st *runState, timing Timing) (*client.Job, error) {
	var lastProgress time.Duration

	return c.client.WaitForJob(ctx, st.jobID,
		client.PollPolicy{MaxWait: timing.MaxWait, Interval: timing.PollInterval},
		client.WithStatusHook(func(previous, current client.JobStatus, elapsed time.Duration) {
			e := st.event(EventStatusChanged)
			e.PreviousStatus = previous
			e.Status = current
			e.Elapsed = elapsed
			c.observer.Observe(ctx, e)
		}),
		client.WithTickHook(func(status client.JobStatus, elapsed time.Duration) {
			if timing.ProgressEvery <= 0 || elapsed-lastProgress < timing.ProgressEvery {
				return
			}
			lastProgress = elapsed

			e := st.event(EventProgress)
			e.Status = status
			e.Elapsed = elapsed
			c.observer.Observe(ctx, e)
		}),
		client.WithPollErrorHook(func(err error, elapsed time.Duration) {
			e := st.event(EventPollFailed)
			e.Err = err
			e.Elapsed = elapsed
			c.observer.Observe(ctx, e)
		}),
	)
}

// abandon deletes a job the conversion gave up on. It runs detached from ctx,
// which is usually already done.
func (c *Converter) abandon(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	defer cancel()

	return c.client.DeleteJob(ctx, jobID)
}

func inspectInput(path string) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("%w: empty path", ErrInputNotReadable)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInputNotReadable, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrInputNotReadable, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInputNotReadable, err)
	}
	_ = f.Close()

	return info.Size(), nil
}

// uploadForm finds the upload task by name, falling back to the first
// import/upload task. Task order in the response is not relied upon.
func uploadForm(job *client.Job, name string) (client.UploadForm, error) {
	task, ok := job.Task(name)
	if !ok || task.Operation != client.OperationImportUpload {
		task, ok = job.TaskByOperation(client.OperationImportUpload)
	}
	if !ok {
		return client.UploadForm{}, fmt.Errorf("%w: no %s task", ErrNoUploadTask, client.OperationImportUpload)
	}

	if task.Result == nil || !task.Result.Form.Valid() {
		return client.UploadForm{}, fmt.Errorf("%w: task %s: %w", ErrNoUploadTask, task.Name, client.ErrInvalidUploadForm)
	}

	return *task.Result.Form, nil
}

func exportURL(job *client.Job, name string) (string, error) {
	task, ok := job.Task(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrExportMissing, name)
	}

	if task.Status != client.TaskStatusFinished {
		return "", fmt.Errorf("%w: %s is %s", ErrExportNotFinished, name, task.Status)
	}

	url, ok := task.FileURL()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrExportNoURL, name)
	}

	return url, nil
}
