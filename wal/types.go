package wal

import "time"

// DurabilityMode defines the fsync behavior for log appends.
type DurabilityMode int

const (
	// DurabilityAsync performs no fsync. Fastest writes but committed state
	// may be lost on crash. Use when another replica provides durability.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsync at regular intervals, amortizing
	// its cost across multiple appends. Recommended for most workloads.
	DurabilityGroupCommit

	// DurabilitySync fsyncs after every append. Slowest but strongest
	// guarantee.
	DurabilitySync
)

// Options contains configuration for the log.
type Options struct {
	// Path is the directory where the log file is stored.
	Path string

	// Compress enables zstd compression of the record stream.
	Compress bool

	// CompressionLevel sets the zstd compression level (1-22). Default 3.
	CompressionLevel int

	// DurabilityMode controls fsync behavior (Async, GroupCommit, Sync).
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time to wait before fsync in
	// GroupCommit mode. Default: 10ms.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps is the maximum appends to batch before fsync in
	// GroupCommit mode. Default: 100.
	GroupCommitMaxOps int

	// AutoCompactOps triggers automatic compaction after N appends.
	// Set to 0 to disable operation-based compaction.
	AutoCompactOps int

	// AutoCompactMB triggers automatic compaction when the log exceeds N
	// megabytes. Set to 0 to disable size-based compaction.
	AutoCompactMB int

	// CompactBytesPerSec rate-limits compaction writes so a background
	// rewrite cannot saturate the device. Zero disables the limit.
	CompactBytesPerSec int
}

// DefaultOptions returns default log options.
var DefaultOptions = Options{
	Path:                ".",
	Compress:            false,
	CompressionLevel:    3,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
	AutoCompactOps:      10000,
	AutoCompactMB:       100,
}
