package task

// State is one of the values a Task's lifecycle can occupy.
// Completed and Canceled are terminal: no further transition leaves them
// absent an explicit new Task. Error is non-terminal — Start is permitted
// again and drives the task back toward Downloading.
type State int

const (
	Idle State = iota
	FetchingMetadata
	Downloading
	Paused
	Assembling
	Completed
	Error
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingMetadata:
		return "fetching_metadata"
	case Downloading:
		return "downloading"
	case Paused:
		return "paused"
	case Assembling:
		return "assembling"
	case Completed:
		return "completed"
	case Error:
		return "error"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a state no further transition leaves.
func (s State) Terminal() bool {
	return s == Completed || s == Canceled
}
