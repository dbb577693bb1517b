// Package models holds the GORM row types backing the chunk store.
package models

// TaskMeta is the per-resource metadata record. URL is the
// primary key; a download in progress has exactly one row here, removed
// once the task reaches a terminal state.
type TaskMeta struct {
	URL             string `gorm:"primaryKey"`
	Filename        string
	TotalBytes      int64
	DownloadedBytes int64
	SupportsResume  bool
	ChunkSize       int64
}

// ChunkRecord is one committed byte range for a resource. The composite
// unique index on (URL, Index) is what makes PutChunk idempotent: a second
// insert attempt for the same key is rejected by the database rather than
// silently overwriting the stored bytes.
type ChunkRecord struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	URL   string `gorm:"uniqueIndex:idx_url_index"`
	Index int    `gorm:"uniqueIndex:idx_url_index"`
	Blob  []byte
}
