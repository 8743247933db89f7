// Package sandbox provides the HTTP client for the sandbox analysis
// backend's REST API.
package sandbox

// Task status values reported by the backend.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusReported  = "reported"
	StatusFailed    = "failed_analysis"

	// GuestStatusStarting is the guest state while the VM boots.
	GuestStatusStarting = "starting"
)

// Machine is a read-only snapshot of one analysis VM as the backend
// describes it.
type Machine struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Platform string   `json:"platform"`
	IP       string   `json:"ip"`
	Tags     []string `json:"tags"`
}

// guestInfo is the guest sub-record of a task view.
type guestInfo struct {
	Status string `json:"status"`
}

// TaskInfo is the backend's view of one submitted task.
type TaskInfo struct {
	ID     int64     `json:"id"`
	Status string    `json:"status"`
	Errors []string  `json:"errors"`
	Guest  guestInfo `json:"guest"`
}

// GuestStarting reports whether the analysis VM is still booting.
func (t *TaskInfo) GuestStarting() bool {
	return t.Guest.Status == GuestStatusStarting
}

// SubmitOptions carries the per-task parameters of a file submission.
type SubmitOptions struct {
	// Package selects the analysis package (e.g. "bin", "dll_multi").
	// Empty lets the backend identify the file itself.
	Package string

	// Timeout is the analysis timeout in seconds.
	Timeout int

	// Options is the comma-joined option string passed to the analysis
	// package (e.g. "procmemdump=yes,function=Start").
	Options string

	// Custom is a free-form string passed through to the backend's
	// processing modules.
	Custom string

	// Memory requests a full memory dump of the analysis machine.
	Memory bool

	// EnforceTimeout makes the analysis run for the full timeout value.
	EnforceTimeout bool
}

// ArchiveCompression selects the compression of a full report bundle.
type ArchiveCompression string

const (
	CompressionGzip ArchiveCompression = "gz"
	CompressionZstd ArchiveCompression = "zst"
)
