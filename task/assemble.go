package task

import (
	"context"
	"os"
	"path/filepath"

	"dlcore/errs"
)

// assemble concatenates every stored chunk, in index order, into the final
// artifact on disk. It verifies the density invariant (chunk 0..k present
// with no gaps) and the assembled size against
// total_bytes before declaring success; either failure is an Assembly
// error, which purges the store so a subsequent Start begins clean rather
// than replaying known-corrupt data.
func (t *Task) assemble(ctx context.Context) {
	if t.checkControlPreempt() {
		return
	}
	t.setState(Assembling)

	chunks, err := t.store.ListChunks(t.url)
	if err != nil {
		t.terminalError(asDownloadError(err))
		return
	}
	if len(chunks) == 0 {
		t.terminalError(errs.NewAssembly("no chunks stored"))
		return
	}

	for i, c := range chunks {
		if c.Index != i {
			t.terminalError(errs.NewAssembly("missing chunk in sequence"))
			return
		}
	}

	t.mu.Lock()
	filename := t.filename
	total := t.totalBytes
	t.mu.Unlock()

	path, err := t.artifactPath(filename)
	if err != nil {
		t.terminalError(errs.NewAssembly(err.Error()))
		return
	}

	f, err := os.Create(path)
	if err != nil {
		t.terminalError(errs.NewAssembly(err.Error()))
		return
	}

	var written int64
	for _, c := range chunks {
		n, werr := f.Write(c.Blob)
		written += int64(n)
		if werr != nil {
			f.Close()
			os.Remove(path)
			t.terminalError(errs.NewAssembly(werr.Error()))
			return
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		t.terminalError(errs.NewAssembly(err.Error()))
		return
	}

	if total > 0 && written != total {
		os.Remove(path)
		t.terminalError(errs.NewAssembly("assembled size does not match total_bytes"))
		return
	}

	t.completeSuccess(path)
}

// artifactPath resolves the destination filename, defaulting to the last
// path segment of the URL when the task was not given one explicitly.
func (t *Task) artifactPath(filename string) (string, error) {
	if filename == "" {
		t.mu.Lock()
		u := t.url
		t.mu.Unlock()
		filename = filepath.Base(u)
		if filename == "" || filename == "." || filename == "/" {
			filename = "download.bin"
		}
	}
	return filename, nil
}
