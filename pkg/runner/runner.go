package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/triagehq/detonator/pkg/core"
	"github.com/triagehq/detonator/pkg/errors"
	"github.com/triagehq/detonator/pkg/retry"
	"github.com/triagehq/detonator/pkg/sandbox"
)

// Backend is the part of the sandbox API surface the lifecycle needs.
// *sandbox.Client satisfies it.
type Backend interface {
	SubmitFile(ctx context.Context, fileName string, content []byte, opts *sandbox.SubmitOptions) (int64, error)
	TaskView(ctx context.Context, taskID int64) (*sandbox.TaskInfo, error)
	ReportJSON(ctx context.Context, taskID int64) ([]byte, error)
	DeleteTask(ctx context.Context, taskID int64) error
	ListMachines(ctx context.Context) ([]sandbox.Machine, error)
}

// Config holds the per-phase retry policies and poll cadence.
type Config struct {
	// MachineDiscovery retries machine listing while the VM pool is
	// saturated.
	MachineDiscovery retry.Policy

	// Submission bounds upload attempts. A backend 500 additionally
	// renames the file between attempts.
	Submission retry.Policy

	// GuestStart bounds how long the analysis VM may spend booting.
	GuestStart retry.Policy

	// ReportFetch bounds report download attempts once the task is
	// reported.
	ReportFetch retry.Policy

	// TaskDelete bounds the best-effort cleanup delete.
	TaskDelete retry.Policy

	// PollInterval is the fixed delay between completion polls.
	PollInterval time.Duration

	// AnalysisTimeout is how long the detonation itself may run.
	AnalysisTimeout time.Duration

	// CompletionGrace extends the completion poll window past the
	// analysis timeout to allow for report generation.
	CompletionGrace time.Duration

	// MaxResubmits caps full resubmissions triggered by reports that
	// vanished after the task reached the reported state.
	MaxResubmits int
}

// DefaultConfig returns the stock phase budgets.
func DefaultConfig() *Config {
	return &Config{
		MachineDiscovery: retry.Policy{MaxAttempts: 6, Delay: 5 * time.Second},
		Submission:       retry.Policy{MaxAttempts: 3, Delay: time.Second},
		GuestStart:       retry.Policy{MaxAttempts: 75, Delay: time.Second},
		ReportFetch:      retry.Policy{MaxAttempts: 5, Delay: time.Second},
		TaskDelete:       retry.Policy{MaxAttempts: 2, Delay: time.Second},
		PollInterval:     5 * time.Second,
		AnalysisTimeout:  150 * time.Second,
		CompletionGrace:  2 * time.Minute,
		MaxResubmits:     2,
	}
}

// Runner executes detonation jobs against one backend.
type Runner struct {
	backend Backend
	cfg     *Config
	log     core.Logger
	metrics Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig replaces the default phase budgets.
func WithConfig(cfg *Config) Option {
	return func(r *Runner) {
		if cfg != nil {
			r.cfg = cfg
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l core.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRunner builds a runner around the given backend.
func NewRunner(backend Backend, opts ...Option) *Runner {
	r := &Runner{
		backend: backend,
		cfg:     DefaultConfig(),
		log:     &core.NopLogger{},
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives job through the full lifecycle. On success job.Report
// holds the raw JSON report and job.State is StateCompleted; the
// backend task is kept alive so the caller can still download its
// artifacts (bundle, dropped files, pcap) and must be torn down with
// Cleanup afterwards. Failed runs delete the task before returning.
func (r *Runner) Run(ctx context.Context, job *Job) (err error) {
	start := time.Now()
	r.metrics.JobStarted()
	defer func() {
		if err != nil {
			r.Cleanup(job)
			job.State = StateFailed
			r.metrics.JobFinished(errors.GetKind(err).String(), time.Since(start))
		} else {
			job.State = StateCompleted
			r.metrics.JobFinished("completed", time.Since(start))
		}
	}()

	if err = r.discoverMachines(ctx, job); err != nil {
		return err
	}

	for {
		if err = r.submit(ctx, job); err != nil {
			return err
		}
		if err = r.awaitGuest(ctx, job); err != nil {
			return err
		}
		if err = r.awaitCompletion(ctx, job); err != nil {
			return err
		}

		report, ferr := r.fetchReport(ctx, job)
		if ferr == nil {
			job.Report = report
			return nil
		}
		if errors.IsMissingReport(ferr) && job.Resubmits < r.cfg.MaxResubmits {
			// The task reported but its report is gone. Tear the dead
			// task down and run the whole submission again under a
			// fresh random name.
			r.Cleanup(job)
			job.Resubmits++
			old := job.FileName
			job.FileName = randomizedName(job.FileName)
			r.log.Warn("job %s: report for task vanished, resubmitting %q as %q (resubmit %d/%d)",
				job.ID, old, job.FileName, job.Resubmits, r.cfg.MaxResubmits)
			continue
		}
		return ferr
	}
}

// discoverMachines verifies the backend has at least one analysis VM.
// A saturated pool answers non-200 and is polled patiently; an
// unreachable backend aborts right away.
func (r *Runner) discoverMachines(ctx context.Context, job *Job) error {
	p := r.cfg.MachineDiscovery
	p.RetryOnError = func(err error) bool {
		if errors.IsBusy(err) {
			r.metrics.Retry("machines")
			return true
		}
		return false
	}
	p.RetryOnValue = func(v interface{}) bool {
		machines, _ := v.([]sandbox.Machine)
		if len(machines) == 0 {
			r.metrics.Retry("machines")
			return true
		}
		return false
	}

	v, err := p.Do(ctx, "runner.discoverMachines", func(ctx context.Context) (interface{}, error) {
		r.metrics.Poll("machines")
		return r.backend.ListMachines(ctx)
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return errors.E(errors.KindBusy, "runner.discoverMachines",
				"no analysis VM became available", err)
		}
		return err
	}

	job.Machines = v.([]sandbox.Machine)
	job.State = StateMachinesDiscovered
	r.log.Debug("job %s: backend exposes %d analysis VMs", job.ID, len(job.Machines))
	return nil
}

// submit uploads the file and records the task ID. A server error
// renames the file to a random base name before the next attempt; the
// backend occasionally rejects specific names it has seen before.
func (r *Runner) submit(ctx context.Context, job *Job) error {
	p := r.cfg.Submission
	p.RetryOnError = func(err error) bool {
		return errors.IsServerError(err) || errors.IsNetwork(err) || errors.IsBusy(err)
	}

	v, err := p.Do(ctx, "runner.submit", func(ctx context.Context) (interface{}, error) {
		r.metrics.Submission()
		id, serr := r.backend.SubmitFile(ctx, job.FileName, job.Content, &job.Submit)
		if serr != nil {
			if errors.IsServerError(serr) {
				old := job.FileName
				job.FileName = randomizedName(job.FileName)
				r.log.Warn("job %s: backend refused %q, will retry as %q", job.ID, old, job.FileName)
			}
			r.metrics.Retry("submit")
			return nil, serr
		}
		return id, nil
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return errors.E(errors.KindSubmission, "runner.submit",
				fmt.Sprintf("giving up on submitting %q", job.FileName), err)
		}
		return err
	}

	job.TaskID = v.(int64)
	job.State = StateSubmitted
	r.log.Info("job %s: submitted as task %d", job.ID, job.TaskID)
	return nil
}

// awaitGuest polls until the analysis VM has finished booting. A task
// the backend no longer knows aborts the job; a VM that never leaves
// the starting state exhausts the window and fails as a timeout.
func (r *Runner) awaitGuest(ctx context.Context, job *Job) error {
	job.State = StateGuestStarting

	p := r.cfg.GuestStart
	p.RetryOnError = func(err error) bool {
		// A vanished task will not come back; anything else might.
		return errors.GetKind(err) != errors.KindTaskMissing
	}
	p.RetryOnValue = func(v interface{}) bool {
		task := v.(*sandbox.TaskInfo)
		return task.GuestStarting() || task.ID != job.TaskID
	}

	v, err := p.Do(ctx, "runner.awaitGuest", func(ctx context.Context) (interface{}, error) {
		r.metrics.Poll("guest")
		task, terr := r.backend.TaskView(ctx, job.TaskID)
		if terr != nil {
			return nil, terr
		}
		if task == nil {
			return nil, errors.E(errors.KindTaskMissing, "runner.awaitGuest",
				fmt.Sprintf("task %d disappeared during guest startup", job.TaskID))
		}
		return task, nil
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return errors.E(errors.KindTimeout, "runner.awaitGuest",
				fmt.Sprintf("analysis VM for task %d failed to start in time", job.TaskID))
		}
		return err
	}

	task := v.(*sandbox.TaskInfo)
	job.recordTaskErrors(task)
	job.State = StateRunning
	r.log.Debug("job %s: guest up, task %d running", job.ID, job.TaskID)
	return nil
}

// awaitCompletion polls at a fixed cadence until the task reports,
// fails, or the analysis window plus grace expires. Transient poll
// errors are tolerated; the deadline is the real bound.
func (r *Runner) awaitCompletion(ctx context.Context, job *Job) error {
	const op = "runner.awaitCompletion"
	deadline := time.Now().Add(r.cfg.AnalysisTimeout + r.cfg.CompletionGrace)

	for {
		r.metrics.Poll("completion")
		task, err := r.backend.TaskView(ctx, job.TaskID)
		switch {
		case err != nil:
			// Poll failures include transient backend 5xx answers; the
			// deadline below is the real bound.
			r.log.Debug("job %s: completion poll failed, will retry: %v", job.ID, err)
		case task == nil:
			return errors.E(errors.KindTaskMissing, op,
				fmt.Sprintf("task %d disappeared while running", job.TaskID))
		case task.ID != job.TaskID:
			// The backend answered with a different task. Treat it as
			// still pending rather than trusting the foreign record.
			r.log.Warn("job %s: poll for task %d answered with task %d", job.ID, job.TaskID, task.ID)
		default:
			job.recordTaskErrors(task)
			switch task.Status {
			case sandbox.StatusReported:
				job.State = StateReported
				r.log.Info("job %s: task %d reported", job.ID, job.TaskID)
				return nil
			case sandbox.StatusFailed:
				msg := fmt.Sprintf("backend reported analysis of task %d as failed", job.TaskID)
				if len(job.TaskErrors) > 0 {
					msg += ": " + strings.Join(job.TaskErrors, "; ")
				}
				return errors.E(errors.KindAnalysisFailed, op, msg)
			}
		}

		if time.Now().After(deadline) {
			return errors.E(errors.KindTimeout, op,
				fmt.Sprintf("task %d did not report within the analysis window", job.TaskID))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// fetchReport downloads the JSON report. Transient errors are retried;
// a missing report aborts immediately so Run can decide on a
// resubmission.
func (r *Runner) fetchReport(ctx context.Context, job *Job) ([]byte, error) {
	p := r.cfg.ReportFetch
	p.RetryOnError = func(err error) bool {
		if errors.IsMissingReport(err) {
			return false
		}
		r.metrics.Retry("report")
		return true
	}

	v, err := p.Do(ctx, "runner.fetchReport", func(ctx context.Context) (interface{}, error) {
		return r.backend.ReportJSON(ctx, job.TaskID)
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return nil, errors.E(errors.KindProcessing, "runner.fetchReport",
				fmt.Sprintf("could not download report for task %d", job.TaskID), err)
		}
		return nil, err
	}
	return v.([]byte), nil
}

// Cleanup deletes the backend task and clears the job's task ID so no
// further request can target it. Best effort: failures are logged and
// swallowed, the backend reaps stale tasks on its own eventually. Runs
// on a fresh context so a cancelled job still gets cleaned up. Safe to
// call more than once.
func (r *Runner) Cleanup(job *Job) {
	if job.TaskID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p := r.cfg.TaskDelete
	_, err := p.Do(ctx, "runner.cleanup", func(ctx context.Context) (interface{}, error) {
		return nil, r.backend.DeleteTask(ctx, job.TaskID)
	})
	if err != nil {
		r.log.Warn("job %s: could not delete task %d: %v", job.ID, job.TaskID, err)
	} else {
		r.log.Debug("job %s: task %d deleted", job.ID, job.TaskID)
	}
	job.TaskID = 0
}

// recordTaskErrors folds new backend-side error strings into the job.
func (j *Job) recordTaskErrors(task *sandbox.TaskInfo) {
	for _, e := range task.Errors {
		seen := false
		for _, have := range j.TaskErrors {
			if have == e {
				seen = true
				break
			}
		}
		if !seen {
			j.TaskErrors = append(j.TaskErrors, e)
		}
	}
}
