package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dlcore/errs"
	"dlcore/store/models"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_MetadataRoundTrip(t *testing.T) {
	db := openTestDB(t)

	meta, err := db.GetMetadata("http://h/f.bin")
	require.NoError(t, err)
	require.Nil(t, meta)

	require.NoError(t, db.PutMetadata(&models.TaskMeta{URL: "http://h/f.bin", TotalBytes: 100}))

	got, err := db.GetMetadata("http://h/f.bin")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(100), got.TotalBytes)

	require.NoError(t, db.PutMetadata(&models.TaskMeta{URL: "http://h/f.bin", TotalBytes: 200}))
	got, err = db.GetMetadata("http://h/f.bin")
	require.NoError(t, err)
	require.Equal(t, int64(200), got.TotalBytes)

	require.NoError(t, db.DeleteMetadata("http://h/f.bin"))
	got, err = db.GetMetadata("http://h/f.bin")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDatabase_PutChunkIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutChunk("http://h/f.bin", 0, []byte("first")))
	require.NoError(t, db.PutChunk("http://h/f.bin", 0, []byte("second")))

	chunks, err := db.ListChunks("http://h/f.bin")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("first"), chunks[0].Blob)
}

func TestDatabase_ListChunksOrdersByIndex(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutChunk("http://h/f.bin", 2, []byte("c")))
	require.NoError(t, db.PutChunk("http://h/f.bin", 0, []byte("a")))
	require.NoError(t, db.PutChunk("http://h/f.bin", 1, []byte("b")))

	chunks, err := db.ListChunks("http://h/f.bin")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Equal(t, 0, chunks[0].Index)
	require.Equal(t, 1, chunks[1].Index)
	require.Equal(t, 2, chunks[2].Index)
}

func TestDatabase_DeleteChunksPurgesOnlyThatURL(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutChunk("http://h/a.bin", 0, []byte("a")))
	require.NoError(t, db.PutChunk("http://h/b.bin", 0, []byte("b")))

	require.NoError(t, db.DeleteChunks("http://h/a.bin"))

	aChunks, err := db.ListChunks("http://h/a.bin")
	require.NoError(t, err)
	require.Empty(t, aChunks)

	bChunks, err := db.ListChunks("http://h/b.bin")
	require.NoError(t, err)
	require.Len(t, bChunks, 1)
}

func TestWrapStorageErr_ClassifiesFullDiskAsQuota(t *testing.T) {
	err := wrapStorageErr(errFullDisk{})
	derr, ok := err.(*errs.DownloadError)
	require.True(t, ok)
	require.Equal(t, errs.Quota, derr.Kind)
}

type errFullDisk struct{}

func (errFullDisk) Error() string { return "database or disk image is full" }
