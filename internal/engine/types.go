// Package engine is the indexing coordinator: it owns every workspace
// root's ignore matcher, branch tracker, file watcher and in-memory
// indexed-file state, drives the initial scan and the live work queue,
// and is the only writer of the vector store and metadata cache.
package engine

import "time"

// Priority levels for queued work. Lower values are dequeued first, so a
// live edit always overtakes a bulk scan still in flight.
const (
	PriorityRealtime        = 0 // live watcher create/modify/delete events
	PriorityIgnoreReconcile = 1 // newly-unignored files after an ignore change
	PriorityBulkScan        = 2 // initial scan and ignore-triggered rescans
)

// EventKind distinguishes the two shapes of work a file can require.
type EventKind int

const (
	EventIndex EventKind = iota
	EventDelete
)

// WorkItem is one unit of queued work: (root, file, what-to-do-with-it).
type WorkItem struct {
	Root     string
	Path     string // workspace-relative, forward-slash normalized
	Kind     EventKind
	Priority int
	Seq      int64
}

// Stats are the per-root counters exposed to callers (status tool,
// resource URIs). Errors accumulate indefinitely; they never poison the
// root or stop indexing.
type Stats struct {
	FilesScanned   int
	FilesIndexed   int
	ChunksCreated  int
	ChunksEmbedded int
	Errors         int
	CurrentFile    string
	QueueSize      int
	CurrentBranch  string
	LastScanAt     time.Time
}
