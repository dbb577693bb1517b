package task

import (
	"bytes"
	"context"
	"io"
	"math"
	"time"

	"dlcore/errs"
	"dlcore/event"
	"dlcore/httpclient"
)

// chunkLoop drives successive byte-range requests until every chunk through
// total_bytes has been persisted, then hands off to assembly. It is the
// body of the Downloading state.
func (t *Task) chunkLoop(ctx context.Context) {
	for {
		if t.checkControlPreempt() {
			return
		}

		if t.IsOnline != nil && !t.IsOnline() {
			t.emitEvent(event.NetworkLost, nil)
			if !t.waitBackoff(ctx, 1) {
				return
			}
			continue
		}

		t.mu.Lock()
		index := t.chunkIndex
		chunkSize := t.chunkSize
		total := t.totalBytes
		downloaded := t.downloadedBytes
		t.mu.Unlock()

		if total > 0 && downloaded >= total {
			break
		}

		start := int64(index) * chunkSize
		end := start + chunkSize - 1
		if total > 0 && end > total-1 {
			end = total - 1
		}

		ok := t.fetchChunk(ctx, index, start, end)
		if !ok {
			if t.checkControlPreempt() {
				return
			}
			// fetchChunk already finalized the task: moved it to Error, or
			// resolved a pending pause/cancel itself.
			return
		}

		if t.checkControlPreempt() {
			return
		}

		t.mu.Lock()
		t.chunkIndex++
		done := t.totalBytes > 0 && t.downloadedBytes >= t.totalBytes
		t.mu.Unlock()
		if done {
			break
		}
	}

	t.assemble(ctx)
}

// fetchChunk performs one chunk's worth of work end to end, including its
// own retry/backoff loop — a failed attempt retries the same chunk index
// rather than advancing. Returns false if the task has moved to Error.
func (t *Task) fetchChunk(ctx context.Context, index int, start, end int64) bool {
	t.mu.Lock()
	supportsResume := t.supportsResume
	t.mu.Unlock()
	if !supportsResume && start > 0 {
		t.terminalError(unsupportedServerErr("server does not support byte ranges; cannot fetch a chunk past the first without Accept-Ranges"))
		return false
	}

	for {
		if t.checkControlPreempt() {
			return false
		}

		reqStart, reqEnd := start, end
		t.mu.Lock()
		if !t.supportsResume {
			reqStart, reqEnd = -1, -1
		}
		t.mu.Unlock()

		resp, err := t.http.GetRange(ctx, t.url, reqStart, reqEnd)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if !t.retryOrFail(errs.NewNetwork(err)) {
				return false
			}
			if !t.waitBackoff(ctx, t.currentRetry()) {
				return false
			}
			continue
		}

		ok, shouldRetry := t.handleChunkResponse(resp, index, start, end)
		if ok {
			t.resetRetryCount()
			return true
		}
		if !shouldRetry {
			return false
		}
		if !t.waitBackoff(ctx, t.currentRetry()) {
			return false
		}
	}
}

// handleChunkResponse classifies the response and, on success, persists the
// chunk and advances progress. The second return value reports whether the
// caller should retry (true) versus having already finalized a terminal
// error (false).
func (t *Task) handleChunkResponse(resp *httpclient.RangeResult, index int, start, end int64) (ok bool, shouldRetry bool) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 206:
		return t.handlePartialContent(resp, index, start, end)
	case resp.StatusCode == 200:
		return t.handleFullContent(resp, index, start)
	case resp.StatusCode >= 500:
		return false, t.retryOrFail(errs.NewHttp(resp.StatusCode, "server error"))
	default:
		return false, t.retryOrFail(errs.NewHttp(resp.StatusCode, "unexpected status"))
	}
}

func (t *Task) handlePartialContent(resp *httpclient.RangeResult, index int, start, end int64) (bool, bool) {
	t.mu.Lock()
	total := t.totalBytes
	t.mu.Unlock()

	if total <= 0 {
		parsed, ok := httpclient.ParseContentRange(resp.ContentRange)
		if !ok {
			t.terminalError(unsupportedServerErr("server returned 206 with no usable Content-Range; cannot determine total_bytes"))
			return false, false
		}
		t.mu.Lock()
		t.totalBytes = parsed
		t.mu.Unlock()
	}

	buf, loaded, err := t.copyWithProgress(resp.Body, start)
	if err != nil {
		return false, t.retryOrFail(errs.NewNetwork(err))
	}
	_ = loaded

	if err := t.store.PutChunk(t.url, index, buf); err != nil {
		return false, t.retryOrFail(asDownloadError(err))
	}

	t.mu.Lock()
	t.supportsResume = true
	t.downloadedBytes = start + int64(len(buf))
	t.mu.Unlock()
	if err := t.persistMetadata(); err != nil {
		return false, t.retryOrFail(asDownloadError(err))
	}
	return true, false
}

// handleFullContent handles a server that ignored the Range header and
// returned the whole resource with 200. If this happens on the very first
// chunk it is treated as the single/whole-file chunk; if it happens after
// resume has already made progress, prior chunks are discarded and the
// whole body becomes the sole chunk 0.
func (t *Task) handleFullContent(resp *httpclient.RangeResult, index int, start int64) (bool, bool) {
	if start > 0 {
		if err := t.store.DeleteChunks(t.url); err != nil {
			return false, t.retryOrFail(asDownloadError(err))
		}
		index = 0
		start = 0
		t.mu.Lock()
		t.chunkIndex = 0
		t.downloadedBytes = 0
		t.supportsResume = false
		t.mu.Unlock()
	} else {
		t.mu.Lock()
		t.supportsResume = false
		t.mu.Unlock()
	}

	buf, _, err := t.copyWithProgress(resp.Body, start)
	if err != nil {
		return false, t.retryOrFail(errs.NewNetwork(err))
	}

	if err := t.store.PutChunk(t.url, index, buf); err != nil {
		return false, t.retryOrFail(asDownloadError(err))
	}

	t.mu.Lock()
	t.totalBytes = int64(len(buf))
	t.downloadedBytes = int64(len(buf))
	t.mu.Unlock()
	if err := t.persistMetadata(); err != nil {
		return false, t.retryOrFail(asDownloadError(err))
	}
	return true, false
}

// copyWithProgress reads body fully while emitting progress events as bytes
// arrive, reporting loaded = start + bytes received so far. A manual buffer
// loop is used rather than io.Copy/ReadAll so that progress can be reported
// incrementally rather than only once at EOF.
func (t *Task) copyWithProgress(body io.ReadCloser, start int64) ([]byte, int64, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	var received int64

	for {
		n, err := body.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
			received += int64(n)
			t.reportProgress(start + received)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, received, err
		}
	}
	return out.Bytes(), received, nil
}

func (t *Task) reportProgress(loaded int64) {
	t.mu.Lock()
	t.downloadedBytes = loaded
	total := t.totalBytes
	t.mu.Unlock()

	if total <= 0 {
		return
	}
	pct := math.Min(100, float64(loaded)/float64(total)*100)
	t.emitEvent(event.Progress, event.ProgressPayload{Loaded: loaded, Total: total, Percent: pct})
}

// retryOrFail records a failure against the retry budget. It returns true
// if the caller should retry after a backoff wait, false if it has already
// transitioned the task to a terminal Error.
func (t *Task) retryOrFail(derr *errs.DownloadError) bool {
	if !derr.Retryable() {
		t.terminalError(derr)
		return false
	}

	t.mu.Lock()
	t.retryCount++
	count := t.retryCount
	t.mu.Unlock()

	if count > MaxRetries {
		t.terminalError(derr)
		return false
	}

	t.log.Warn().Err(derr).Int("retry", count).Msg("chunk fetch failed, retrying")
	return true
}

func (t *Task) currentRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

func (t *Task) resetRetryCount() {
	t.mu.Lock()
	t.retryCount = 0
	t.mu.Unlock()
}

// waitBackoff sleeps 1000*2^(retry-1) ms, preemptible by context
// cancellation (pause/cancel) or by ctx.Done already having fired. Returns
// false if the wait was preempted, in which case the caller must stop
// driving the task.
func (t *Task) waitBackoff(ctx context.Context, retry int) bool {
	if retry < 1 {
		retry = 1
	}
	wait := time.Duration(1000*math.Pow(2, float64(retry-1))) * time.Millisecond

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
