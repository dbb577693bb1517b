package event

import "dlcore/errs"

// Event names emitted by a Task.
const (
	Start        = "start"
	Progress     = "progress"
	StateChange  = "stateChange"
	NetworkLost  = "networkLost"
	Pause        = "pause"
	Resume       = "resume"
	Cancel       = "cancel"
	Complete     = "complete"
	Error        = "error"
)

// Event names additionally emitted by a Job.
const (
	TaskProgress = "taskProgress"
	TaskComplete = "taskComplete"
	TaskError    = "taskError"
)

// ProgressPayload accompanies a Progress event.
type ProgressPayload struct {
	Loaded  int64
	Total   int64
	Percent float64
}

// StateChangePayload accompanies a StateChange event.
type StateChangePayload struct {
	NewState string
}

// CompletePayload accompanies a Complete event.
type CompletePayload struct {
	Artifact string // path to the assembled file
}

// ErrorPayload accompanies an Error event.
type ErrorPayload struct {
	Kind errs.Kind
	Err  error
}

// TaskProgressPayload accompanies a job-level TaskProgress echo.
type TaskProgressPayload struct {
	URL     string
	Loaded  int64
	Total   int64
	Percent float64
}

// TaskCompletePayload accompanies a job-level TaskComplete event.
type TaskCompletePayload struct {
	URL string
}

// TaskErrorPayload accompanies a job-level TaskError event.
type TaskErrorPayload struct {
	URL string
	Err error
}

// JobProgressPayload accompanies the job-level aggregated Progress event.
type JobProgressPayload struct {
	Loaded  int64
	Total   int64
	Percent float64
}
