// Package runner drives the lifecycle of one detonation job against the
// sandbox backend: machine discovery, submission, guest startup, the
// completion poll, report retrieval and task cleanup.
package runner

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/triagehq/detonator/pkg/sandbox"
)

// State of a job inside the lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateMachinesDiscovered
	StateSubmitted
	StateGuestStarting
	StateRunning
	StateReported
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateMachinesDiscovered:
		return "machines_discovered"
	case StateSubmitted:
		return "submitted"
	case StateGuestStarting:
		return "guest_starting"
	case StateRunning:
		return "running"
	case StateReported:
		return "reported"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is one file detonation. The runner mutates it in place as the
// lifecycle advances; a Job must not be shared across runners.
type Job struct {
	// ID identifies the job in logs and metrics. Distinct from the
	// backend task ID, which changes on resubmission.
	ID string

	// FileName as presented to the backend. Renamed to a random base
	// name when the backend chokes on the original.
	FileName string

	Content []byte
	Submit  sandbox.SubmitOptions

	TaskID   int64
	State    State
	Machines []sandbox.Machine

	// Report is the raw JSON analysis report, set once the job reaches
	// the reported state.
	Report []byte

	// TaskErrors collects error strings the backend attached to the
	// task while it ran.
	TaskErrors []string

	// Resubmits counts full resubmissions caused by vanished reports.
	Resubmits int
}

// NewJob builds a job for one file.
func NewJob(fileName string, content []byte, submit sandbox.SubmitOptions) *Job {
	return &Job{
		ID:       uuid.NewString(),
		FileName: fileName,
		Content:  content,
		Submit:   submit,
		State:    StateCreated,
	}
}

// randomizedName returns a fresh random base name with the original
// extension preserved, so the backend still picks the right analysis
// package.
func randomizedName(name string) string {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")
	return base + filepath.Ext(name)
}
