package runner

import "time"

// Metrics receives lifecycle events from the runner. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// JobStarted fires when a job enters the lifecycle.
	JobStarted()

	// JobFinished fires once per job with its outcome label and total
	// wall time.
	JobFinished(outcome string, elapsed time.Duration)

	// Submission fires for every file upload attempt.
	Submission()

	// Retry fires when a phase consumes one of its retry attempts.
	Retry(phase string)

	// Poll fires for every status poll issued during a phase.
	Poll(phase string)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) JobStarted()                          {}
func (NopMetrics) JobFinished(string, time.Duration)    {}
func (NopMetrics) Submission()                          {}
func (NopMetrics) Retry(string)                         {}
func (NopMetrics) Poll(string)                          {}
