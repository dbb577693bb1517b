// Package task implements the Download Task: the per-resource engine that
// discovers server capabilities, splits a resource into byte-range chunks,
// writes each to the Chunk Store, retries transient failures, and
// assembles the final artifact. It owns exactly one in-flight
// HTTP request at a time and exposes the start/pause/resume/cancel surface
// the Scheduler drives.
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dlcore/errs"
	"dlcore/event"
	"dlcore/httpclient"
	"dlcore/store"
	"dlcore/store/models"
)

// control is a pending user-requested transition that the driver goroutine
// checks for at every suspension point (top of the chunk loop, around every
// HTTP attempt, after every backoff wait).
type control int

const (
	controlNone control = iota
	controlPause
	controlCancel
)

// Task drives one resource from URL to assembled artifact. Construct with
// New; the zero value is not usable.
type Task struct {
	mu sync.Mutex

	id       uuid.UUID
	url      string
	filename string

	store *store.Database
	http  *httpclient.Client

	// Events is the Observer surface external callers subscribe to. It is
	// exported so a Job or Scheduler can attach listeners without a
	// dedicated accessor method.
	Events *event.Emitter

	// IsOnline is consulted before every chunk request. A nil value means
	// "always online".
	IsOnline func() bool

	log zerolog.Logger

	state State

	totalBytes      int64
	downloadedBytes int64
	supportsResume  bool
	chunkSize       int64
	chunkIndex      int

	retryCount int

	pending control

	running   bool
	reqCancel context.CancelFunc
}

// New constructs a Task for url, to be saved as filename once assembled.
func New(url, filename string, db *store.Database, hc *httpclient.Client) *Task {
	id, _ := uuid.NewV4()
	return &Task{
		id:       id,
		url:      url,
		filename: filename,
		store:    db,
		http:     hc,
		Events:   event.New(),
		log:      log.With().Str("url", url).Str("task_id", id.String()).Logger(),
		state:    Idle,
	}
}

// URL returns the resource identifier this task drives.
func (t *Task) URL() string { return t.url }

// ID returns the task's unique identifier, assigned at construction.
func (t *Task) ID() uuid.UUID { return t.id }

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot is a consistent read of the fields a Job needs to aggregate
// progress, taken under the task's lock.
type Snapshot struct {
	State           State
	DownloadedBytes int64
	TotalBytes      int64
}

// Snapshot returns a consistent read of the task's progress fields.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{State: t.state, DownloadedBytes: t.downloadedBytes, TotalBytes: t.totalBytes}
}

// Start begins or resumes a download. Valid from Idle or Error; a no-op
// error is returned otherwise.
func (t *Task) Start() error {
	t.mu.Lock()
	if t.state != Idle && t.state != Error {
		s := t.state
		t.mu.Unlock()
		return fmt.Errorf("task: start requires idle or error state, have %s", s)
	}
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("task: driver already running")
	}
	t.running = true
	t.retryCount = 0
	t.pending = controlNone
	ctx, cancel := context.WithCancel(context.Background())
	t.reqCancel = cancel
	t.mu.Unlock()

	t.emitEvent(event.Start, nil)
	go t.run(ctx)
	return nil
}

// Pause aborts the in-flight request without loss and transitions toward
// Paused. No-op unless the task is Downloading.
func (t *Task) Pause() error {
	t.mu.Lock()
	if t.state != Downloading {
		t.mu.Unlock()
		return nil
	}
	t.pending = controlPause
	cancel := t.reqCancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Resume drives the next chunk after a pause. No-op unless the task is
// Paused.
func (t *Task) Resume() error {
	t.mu.Lock()
	if t.state != Paused {
		t.mu.Unlock()
		return nil
	}
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.pending = controlNone
	ctx, cancel := context.WithCancel(context.Background())
	t.reqCancel = cancel
	t.mu.Unlock()

	t.emitEvent(event.Resume, nil)
	go t.run(ctx)
	return nil
}

// Cancel transitions to Canceled from any non-terminal state, aborting any
// in-flight request and purging the chunk store for this url.
func (t *Task) Cancel() error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return nil
	}
	t.pending = controlCancel
	cancel := t.reqCancel
	running := t.running
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !running {
		// No driver goroutine is active (Idle/Error/Paused): there is no
		// suspension point to pre-empt, so finalize directly.
		t.finalizeCancel()
	}
	return nil
}

func (t *Task) emitEvent(name string, payload any) {
	t.Events.Emit(name, payload)
}

// setState transitions state and emits stateChange. Every state transition
// in this package goes through here so stateChange is never missed, and so
// observers always see stateChange(downloading) before any progress event.
func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.log.Debug().Str("state", s.String()).Msg("task state change")
	t.emitEvent(event.StateChange, event.StateChangePayload{NewState: s.String()})
}

// checkControlPreempt inspects the pending control request and, if one is
// set, finalizes it (pause or cancel) and reports that the caller must stop
// driving the task. It is the single place that resolves the race between
// a control method and the driver goroutine's suspension points.
func (t *Task) checkControlPreempt() bool {
	t.mu.Lock()
	p := t.pending
	t.mu.Unlock()

	switch p {
	case controlPause:
		t.finalizePause()
		return true
	case controlCancel:
		t.finalizeCancel()
		return true
	default:
		return false
	}
}

func (t *Task) finalizePause() {
	t.mu.Lock()
	t.reqCancel = nil
	t.pending = controlNone
	t.mu.Unlock()

	t.setState(Paused)
	t.emitEvent(event.Pause, nil)
}

func (t *Task) finalizeCancel() {
	t.mu.Lock()
	t.reqCancel = nil
	t.pending = controlNone
	t.mu.Unlock()

	t.setState(Canceled)
	if err := t.store.DeleteChunks(t.url); err != nil {
		t.log.Warn().Err(err).Msg("failed to purge chunks on cancel")
	}
	if err := t.store.DeleteMetadata(t.url); err != nil {
		t.log.Warn().Err(err).Msg("failed to purge metadata on cancel")
	}
	t.emitEvent(event.Cancel, nil)
}

// terminalError moves the task to Error and emits error{kind}. The task
// retains its metadata and chunks so a later Start() can retry, except for
// Assembly errors, whose data is known corrupt and must be
// purged.
func (t *Task) terminalError(derr *errs.DownloadError) {
	t.mu.Lock()
	t.reqCancel = nil
	t.mu.Unlock()

	if derr.Kind == errs.Assembly {
		if err := t.store.DeleteChunks(t.url); err != nil {
			t.log.Warn().Err(err).Msg("failed to purge chunks after assembly error")
		}
		if err := t.store.DeleteMetadata(t.url); err != nil {
			t.log.Warn().Err(err).Msg("failed to purge metadata after assembly error")
		}
	}

	t.log.Error().Err(derr).Str("kind", derr.Kind.String()).Msg("task failed")
	t.setState(Error)
	t.emitEvent(event.Error, event.ErrorPayload{Kind: derr.Kind, Err: derr})
}

func (t *Task) completeSuccess(artifactPath string) {
	t.mu.Lock()
	t.reqCancel = nil
	t.mu.Unlock()

	t.setState(Completed)
	if err := t.store.DeleteChunks(t.url); err != nil {
		t.log.Warn().Err(err).Msg("failed to purge chunks on completion")
	}
	if err := t.store.DeleteMetadata(t.url); err != nil {
		t.log.Warn().Err(err).Msg("failed to purge metadata on completion")
	}
	t.emitEvent(event.Complete, event.CompletePayload{Artifact: artifactPath})
}

// persistMetadata upserts the task's current progress fields, the one
// durable record a crashed process needs to resume.
func (t *Task) persistMetadata() error {
	t.mu.Lock()
	meta := &models.TaskMeta{
		URL:             t.url,
		Filename:        t.filename,
		TotalBytes:      t.totalBytes,
		DownloadedBytes: t.downloadedBytes,
		SupportsResume:  t.supportsResume,
		ChunkSize:       t.chunkSize,
	}
	t.mu.Unlock()

	if err := t.store.PutMetadata(meta); err != nil {
		return err
	}
	return nil
}

func (t *Task) loadFromMetadata(meta *models.TaskMeta) {
	t.mu.Lock()
	if meta.Filename != "" {
		t.filename = meta.Filename
	}
	t.totalBytes = meta.TotalBytes
	t.downloadedBytes = meta.DownloadedBytes
	t.supportsResume = meta.SupportsResume
	t.chunkSize = meta.ChunkSize
	if t.chunkSize > 0 {
		t.chunkIndex = int(t.downloadedBytes / t.chunkSize)
	}
	t.mu.Unlock()
}

// run is the driver goroutine body: the Start protocol followed by the
// chunk loop. Exactly one instance of run runs per task at a time, enforced
// by the `running` flag under mu.
func (t *Task) run(ctx context.Context) {
	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	meta, err := t.store.GetMetadata(t.url)
	if err != nil {
		t.terminalError(asDownloadError(err))
		return
	}

	if meta != nil {
		t.loadFromMetadata(meta)
		t.setState(Downloading)
		t.reportProgress(t.downloadedBytes)
	} else {
		t.setState(FetchingMetadata)
		t.discoverCapabilities(ctx)
		if t.checkControlPreempt() {
			return
		}
		t.computeChunkSize()
		if err := t.persistMetadata(); err != nil {
			t.terminalError(asDownloadError(err))
			return
		}
		t.setState(Downloading)
	}

	t.chunkLoop(ctx)
}

func asDownloadError(err error) *errs.DownloadError {
	if derr, ok := err.(*errs.DownloadError); ok {
		return derr
	}
	return errs.NewStorage(err)
}
