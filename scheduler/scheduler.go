// Package scheduler implements the bounded-concurrency runner that pulls
// queued tasks and drives at most `concurrency` of them at once. It holds
// non-owning references to tasks — a Job or caller retains ownership — and
// reasons about pause/resume/cancel arriving from outside its own dispatch
// loop, the same out-of-band-event shape used to track completions against
// a fixed concurrency cap.
package scheduler

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dlcore/event"
	"dlcore/task"
)

// DefaultConcurrency is a positive integer fixed at construction, default
// 2.
const DefaultConcurrency = 2

// Scheduler drives a FIFO queue of tasks with at most concurrency active at
// once. The zero value is not usable; construct with New.
type Scheduler struct {
	mu sync.Mutex

	concurrency int
	queue       []*task.Task
	active      map[*task.Task]struct{}
	// activeOrder tracks insertion order into active. A plain map has no
	// iteration order, which Pause needs to requeue tasks in the reverse of
	// the order they were dispatched.
	activeOrder []*task.Task
	running     bool
	processing  bool
	pendingRun  bool

	log zerolog.Logger
}

// New constructs a Scheduler with the given concurrency. A non-positive
// value falls back to DefaultConcurrency.
func New(concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		concurrency: concurrency,
		active:      make(map[*task.Task]struct{}),
		log:         log.With().Str("component", "scheduler").Logger(),
	}
}

// Add enqueues t, rejecting it if it is already queued, active, in a
// terminal state, or Paused — a paused task is not re-enqueued by Add; the
// caller must bring it back explicitly via ResumeJob.
func (s *Scheduler) Add(t *task.Task) bool {
	s.mu.Lock()
	if s.containsLocked(t) || t.State().Terminal() || t.State() == task.Paused {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, t)
	running := s.running
	s.mu.Unlock()

	if running {
		s.dispatch()
	}
	return true
}

func (s *Scheduler) containsLocked(t *task.Task) bool {
	if _, ok := s.active[t]; ok {
		return true
	}
	for _, qt := range s.queue {
		if qt == t {
			return true
		}
	}
	return false
}

// Start enables dispatch and immediately attempts to fill available slots.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.dispatch()
}

// Pause stops pulling new tasks and pauses every currently active task, in
// reverse insertion order, re-queuing each at the head of the queue so
// priority is preserved on a future Start.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.running = false
	toPause := make([]*task.Task, len(s.activeOrder))
	copy(toPause, s.activeOrder)
	s.mu.Unlock()

	for i := len(toPause) - 1; i >= 0; i-- {
		t := toPause[i]
		_ = t.Pause()
		s.mu.Lock()
		s.queue = append([]*task.Task{t}, s.queue...)
		s.mu.Unlock()
	}
}

// Clear empties both the queue and the active set, canceling every active
// task, and disables further dispatch.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.running = false
	toCancel := make([]*task.Task, len(s.activeOrder))
	copy(toCancel, s.activeOrder)
	s.queue = nil
	s.mu.Unlock()

	for _, t := range toCancel {
		_ = t.Cancel()
	}
}

// ResumeJob brings a task back from Paused under scheduler management,
// respecting the concurrency bound rather than resuming it unconditionally.
// A task paused directly rather than through Scheduler.Pause is evicted
// from active by the same listener that handles Complete/Error/Cancel,
// leaving it neither active nor queued; Add refuses Paused tasks, so this
// is the one way to put it back under scheduler management. If a slot
// is free, the task is wired into active and driven via task.Resume
// immediately; otherwise it is queued and dispatchOnce resumes it via
// task.Resume once a slot opens.
func (s *Scheduler) ResumeJob(t *task.Task) bool {
	s.mu.Lock()
	if t.State() != task.Paused || s.containsLocked(t) {
		s.mu.Unlock()
		return false
	}

	if s.running && len(s.active) < s.concurrency {
		s.addActiveLocked(t)
		s.mu.Unlock()

		s.attachListeners(t)
		if err := t.Resume(); err != nil {
			s.log.Warn().Err(err).Str("url", t.URL()).Msg("task failed to resume")
			s.removeActive(t)
		}
		return true
	}

	s.queue = append(s.queue, t)
	running := s.running
	s.mu.Unlock()

	if running {
		s.dispatch()
	}
	return true
}

// dispatch is the serial dispatch routine: at most one invocation processes
// the queue at a time. The `processing` guard ensures reentrant calls (from
// a freed-slot listener firing mid-dispatch) queue a follow-up pass via
// `pendingRun` rather than running concurrently.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.processing {
		s.pendingRun = true
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()

	for {
		s.dispatchOnce()

		s.mu.Lock()
		if s.pendingRun {
			s.pendingRun = false
			s.mu.Unlock()
			continue
		}
		s.processing = false
		s.mu.Unlock()
		return
	}
}

func (s *Scheduler) dispatchOnce() {
	for {
		s.mu.Lock()
		if !s.running || len(s.active) >= s.concurrency || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		st := t.State()
		if st.Terminal() {
			s.mu.Unlock()
			continue
		}
		s.addActiveLocked(t)
		s.mu.Unlock()

		s.attachListeners(t)
		// A task reaching here is either Idle/Error (never driven yet, or
		// restarting after a failure) or Paused (requeued by ResumeJob/
		// Pause); the two resume via different Task methods, since Start
		// rejects Paused and Resume rejects everything else.
		var err error
		if st == task.Paused {
			err = t.Resume()
		} else {
			err = t.Start()
		}
		if err != nil {
			s.log.Warn().Err(err).Str("url", t.URL()).Msg("task failed to start")
			s.removeActive(t)
			continue
		}
	}
}

// attachListeners wires complete/error/cancel/pause handlers that free the
// task's slot and re-trigger dispatch. A task's Events emitter is shared
// with any Job aggregating it, so handlers here must never call Off (that
// would remove the Job's listeners too); instead each handler closes over
// its own `detached` flag and no-ops once the slot has already been freed,
// the pattern event.Off's doc comment calls out by name.
func (s *Scheduler) attachListeners(t *task.Task) {
	var mu sync.Mutex
	detached := false

	onTerminalOrPause := func(any) {
		mu.Lock()
		if detached {
			mu.Unlock()
			return
		}
		detached = true
		mu.Unlock()

		s.removeActive(t)
		s.dispatch()
	}

	t.Events.On(event.Complete, onTerminalOrPause)
	t.Events.On(event.Error, onTerminalOrPause)
	t.Events.On(event.Cancel, onTerminalOrPause)
	t.Events.On(event.Pause, onTerminalOrPause)
}

// addActiveLocked inserts t into active and records its insertion order.
// Callers must hold s.mu.
func (s *Scheduler) addActiveLocked(t *task.Task) {
	s.active[t] = struct{}{}
	s.activeOrder = append(s.activeOrder, t)
}

func (s *Scheduler) removeActive(t *task.Task) {
	s.mu.Lock()
	delete(s.active, t)
	for i, at := range s.activeOrder {
		if at == t {
			s.activeOrder = append(s.activeOrder[:i], s.activeOrder[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// ActiveCount reports the number of tasks currently active. Exposed for
// tests asserting the concurrency bound.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// QueueLen reports the number of tasks waiting to begin.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
