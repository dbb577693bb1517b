package task

import (
	"context"

	"dlcore/errs"
	"dlcore/httpclient"
)

// discoverCapabilities learns total_bytes and whether the origin honors
// byte ranges. It never itself produces a terminal Task error: if both
// Strategy A (HEAD) and Strategy B (single byte range probe) fail to yield
// an answer, it leaves t.totalBytes at 0 and t.supportsResume false, a
// tolerated degraded mode — later Content-Range parsing from the first
// chunked GET may still recover total_bytes.
func (t *Task) discoverCapabilities(ctx context.Context) {
	if t.probeHead(ctx) {
		return
	}
	t.probeRange(ctx)
}

// probeHead implements Strategy A. Returns true if it produced a usable
// answer.
func (t *Task) probeHead(ctx context.Context) bool {
	info, err := t.http.Head(ctx, t.url)
	if err != nil {
		t.log.Debug().Err(err).Msg("HEAD probe failed, falling back to range probe")
		return false
	}
	if info.StatusCode < 200 || info.StatusCode >= 300 {
		t.log.Debug().Int("status", info.StatusCode).Msg("HEAD probe non-2xx, falling back to range probe")
		return false
	}

	t.mu.Lock()
	t.totalBytes = info.ContentLength
	t.supportsResume = info.AcceptRanges
	t.mu.Unlock()
	return true
}

// probeRange implements Strategy B.
func (t *Task) probeRange(ctx context.Context) {
	resp, err := t.http.GetRange(ctx, t.url, 0, 0)
	if err != nil {
		t.log.Debug().Err(err).Msg("range probe failed, proceeding in degraded mode")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 206:
		total, ok := httpclient.ParseContentRange(resp.ContentRange)
		t.mu.Lock()
		if ok {
			t.totalBytes = total
		}
		t.supportsResume = true
		t.mu.Unlock()
	case 200:
		// Server ignored the range; do not drain the body.
		t.mu.Lock()
		t.supportsResume = false
		if resp.ContentLength > 0 {
			t.totalBytes = resp.ContentLength
		}
		t.mu.Unlock()
	default:
		t.log.Debug().Int("status", resp.StatusCode).Msg("range probe returned unexpected status, proceeding in degraded mode")
	}
}

// unsupportedServerErr is a small helper kept close to the capability code
// it documents: it is raised later, from the chunk loop, the moment a
// resumed chunk (start > 0) is attempted against a server that never
// proved it honors ranges.
func unsupportedServerErr(msg string) *errs.DownloadError {
	return errs.NewUnsupportedServer(msg)
}
