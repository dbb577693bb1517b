// Package job implements the Download Job: a fixed-size aggregation of
// tasks that exposes combined progress and completion without ever driving
// the tasks itself. Progress from each task fans up into one aggregated
// listener surface, the way a multi-piece download rolls per-piece
// completion into one overall percentage.
package job

import (
	"sync"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dlcore/event"
	"dlcore/task"
)

type entry struct {
	loaded int64
	total  int64
}

// Job composes N tasks constructed from parallel urls/filenames arrays of
// equal length. It owns those tasks exclusively; the Scheduler only holds
// non-owning references to drive them.
type Job struct {
	mu sync.Mutex

	id      uuid.UUID
	tasks   []*task.Task
	entries map[string]*entry

	completed int
	errored   int

	Events *event.Emitter

	log zerolog.Logger
}

// New constructs a Job over tasks, wiring a progress/complete/error
// listener onto each one. len(tasks) must equal the originally requested
// url/filename count; tasks is the Job's to own from this point forward.
func New(tasks []*task.Task) *Job {
	id, _ := uuid.NewV4()
	j := &Job{
		id:      id,
		tasks:   tasks,
		entries: make(map[string]*entry, len(tasks)),
		Events:  event.New(),
		log:     log.With().Str("component", "job").Str("job_id", id.String()).Logger(),
	}

	for _, tk := range tasks {
		j.entries[tk.URL()] = &entry{}
		j.wire(tk)
	}

	return j
}

// ID returns the job's unique identifier, assigned at construction.
func (j *Job) ID() uuid.UUID { return j.id }

// Tasks returns the tasks this job owns, in construction order. The
// Scheduler uses this to seed its queue.
func (j *Job) Tasks() []*task.Task {
	out := make([]*task.Task, len(j.tasks))
	copy(out, j.tasks)
	return out
}

func (j *Job) wire(tk *task.Task) {
	url := tk.URL()

	tk.Events.On(event.Progress, func(payload any) {
		p, ok := payload.(event.ProgressPayload)
		if !ok {
			return
		}
		j.onProgress(url, p)
	})

	tk.Events.On(event.Complete, func(payload any) {
		j.onComplete(url)
	})

	tk.Events.On(event.Error, func(payload any) {
		p, _ := payload.(event.ErrorPayload)
		j.onError(url, p.Err)
	})
}

func (j *Job) onProgress(url string, p event.ProgressPayload) {
	j.mu.Lock()
	e, ok := j.entries[url]
	if !ok {
		j.mu.Unlock()
		return
	}
	e.loaded = p.Loaded
	e.total = p.Total

	var jobLoaded, jobTotal int64
	for _, e := range j.entries {
		jobLoaded += e.loaded
		jobTotal += e.total
	}
	j.mu.Unlock()

	var pct float64
	if jobTotal > 0 {
		pct = float64(jobLoaded) / float64(jobTotal) * 100
	}

	j.Events.Emit(event.Progress, event.JobProgressPayload{Loaded: jobLoaded, Total: jobTotal, Percent: pct})
	j.Events.Emit(event.TaskProgress, event.TaskProgressPayload{URL: url, Loaded: p.Loaded, Total: p.Total, Percent: p.Percent})
}

func (j *Job) onComplete(url string) {
	j.mu.Lock()
	j.completed++
	done := j.terminalLocked()
	j.mu.Unlock()

	j.log.Info().Str("url", url).Msg("task completed")
	j.Events.Emit(event.TaskComplete, event.TaskCompletePayload{URL: url})
	if done {
		j.Events.Emit(event.Complete, nil)
	}
}

func (j *Job) onError(url string, err error) {
	j.mu.Lock()
	j.errored++
	done := j.terminalLocked()
	j.mu.Unlock()

	j.log.Warn().Str("url", url).Err(err).Msg("task failed")
	j.Events.Emit(event.TaskError, event.TaskErrorPayload{URL: url, Err: err})
	if done {
		j.Events.Emit(event.Complete, nil)
	}
}

// terminalLocked reports whether every task has reached a terminal outcome.
// Callers must hold j.mu.
func (j *Job) terminalLocked() bool {
	return j.completed+j.errored == len(j.tasks)
}

// Progress returns the current aggregated (loaded, total) across every
// task in the job.
func (j *Job) Progress() (loaded, total int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		loaded += e.loaded
		total += e.total
	}
	return
}

// Done reports whether every task in the job has reached completed or
// error.
func (j *Job) Done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.terminalLocked()
}
