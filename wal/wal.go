// Package wal provides the append-only durable log backing a factgo store.
//
// Every committed mutation is appended here before the in-memory index is
// updated, so a crash after the append is recoverable by replay and a crash
// before it means the mutation never happened. Records are framed with a
// length prefix and CRC32 (see the codec package); replay tolerates a torn
// trailing record and treats any earlier damage as fatal corruption.
//
// Features:
//   - Configurable fsync behavior (Async, GroupCommit, Sync)
//   - Optional zstd compression of the record stream
//   - Atomic compaction to the current winning record per identifier
//   - Auto-compaction thresholds by append count or file size
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/factgo/codec"
	"github.com/hupe1980/factgo/model"
)

// ErrCorrupted is returned when the log fails an integrity check beyond the
// tolerated torn trailing record. A store must not start from such a log.
var ErrCorrupted = errors.New("wal: corrupted log")

// ErrTornTail is returned by Append when replay found a torn record at the
// end of a compressed stream. The tail cannot be cut at a frame boundary
// like an uncompressed log; Compact rewrites the log and clears the
// condition.
var ErrTornTail = errors.New("wal: torn compressed tail, compaction required")

// FileName is the log file name inside Options.Path.
const FileName = "factgo.wal"

// WAL is the append-only durable log.
type WAL struct {
	mu               sync.Mutex
	file             *os.File
	writer           io.Writer     // may be compressed or direct
	bufWriter        *bufio.Writer // buffered writer for performance
	compressor       *zstd.Encoder
	decompressor     *zstd.Decoder
	filePath         string
	compressed       bool
	compressionLevel int
	dataOffset       int64 // start of record stream (after header)
	tornTail         bool  // compressed stream ends in a torn record

	// Auto-compaction tracking. Compaction itself runs on a background
	// goroutine: the compact callback reads store state, so it must never
	// run inside an append, which the store calls with its own lock held.
	autoCompactOps     int
	autoCompactMB      int
	appendsSinceCompact int
	compactFunc        func() error // callback to trigger compaction
	compactBytesPerSec int
	compactCh          chan struct{}
	compactStopCh      chan struct{}
	compactWg          sync.WaitGroup

	// Group commit support (background goroutine lifecycle)
	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup

	appendSeq    uint64     // appends accepted so far
	persistedSeq uint64     // highest append known to be on disk
	syncCond     *sync.Cond // blocks writers waiting for a group commit
}

// New opens or creates the log in the configured directory.
func New(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(opts.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(opts.Path, FileName)

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600) //nolint:gosec // G304: path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &WAL{
		file:                file,
		filePath:            filePath,
		compressionLevel:    opts.CompressionLevel,
		autoCompactOps:      opts.AutoCompactOps,
		autoCompactMB:       opts.AutoCompactMB,
		compactBytesPerSec:  opts.CompactBytesPerSec,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	w.syncCond = sync.NewCond(&w.mu)

	if st.Size() == 0 {
		hdrLen, err := writeLogHeader(w.file, logHeaderInfo{
			Compressed:       opts.Compress,
			CompressionLevel: opts.CompressionLevel,
		})
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		w.dataOffset = hdrLen
		w.compressed = opts.Compress
	} else {
		hdrInfo, valid, err := readLogHeader(w.file)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		if !valid {
			_ = file.Close()
			return nil, fmt.Errorf("%w: missing header", ErrCorrupted)
		}
		w.dataOffset = hdrInfo.HeaderLen
		w.compressed = hdrInfo.Compressed
		w.compressionLevel = hdrInfo.CompressionLevel
	}

	if err := w.initCodecs(); err != nil {
		_ = file.Close()
		return nil, err
	}

	if w.durabilityMode == DurabilityGroupCommit && w.groupCommitInterval > 0 {
		w.groupCommitStopCh = make(chan struct{})
		w.groupCommitTicker = time.NewTicker(w.groupCommitInterval)
		w.groupCommitWg.Add(1)
		go w.groupCommitWorker()
	}

	return w, nil
}

// initCodecs positions the file at the end of the stream and sets up the
// write path (and decompressor, when the stream is compressed).
func (w *WAL) initCodecs() error {
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log end: %w", err)
	}

	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		compressor, err := zstd.NewWriter(w.file, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
		w.compressor = compressor
		w.bufWriter = bufio.NewWriter(compressor)
		w.writer = w.bufWriter

		decompressor, err := zstd.NewReader(nil)
		if err != nil {
			_ = compressor.Close()
			return fmt.Errorf("failed to create decompressor: %w", err)
		}
		w.decompressor = decompressor
	} else {
		w.bufWriter = bufio.NewWriter(w.file)
		w.writer = w.bufWriter
	}
	return nil
}

// FilePath returns the path of the log file.
func (w *WAL) FilePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filePath
}

// Append durably appends one record. It returns only after the record has
// reached the durability level configured by Options.DurabilityMode.
func (w *WAL) Append(rec *model.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("wal: closed")
	}
	if w.tornTail {
		return ErrTornTail
	}

	if err := codec.WriteRecord(w.writer, rec); err != nil {
		return fmt.Errorf("failed to encode log record: %w", err)
	}
	w.appendSeq++

	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.syncIfNeeded(); err != nil {
		return err
	}

	w.appendsSinceCompact++
	w.maybeCompactLocked()
	return nil
}

// TornTail reports whether replay found a torn record at the end of a
// compressed stream. While set, Append fails with ErrTornTail; Compact
// clears it.
func (w *WAL) TornTail() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tornTail
}

func (w *WAL) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.compressed {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}

// syncIfNeeded performs fsync based on the configured durability mode.
func (w *WAL) syncIfNeeded() error {
	switch w.durabilityMode {
	case DurabilityAsync:
		return nil

	case DurabilitySync:
		if err := w.file.Sync(); err != nil {
			return err
		}
		w.persistedSeq = w.appendSeq
		return nil

	case DurabilityGroupCommit:
		w.groupCommitPending++
		targetSeq := w.appendSeq

		if w.groupCommitPending >= w.groupCommitMaxOps {
			return w.doGroupCommit()
		}
		// Wait for the background worker. Wait releases w.mu so the worker
		// (or another writer) can acquire it and perform the sync.
		for w.persistedSeq < targetSeq {
			w.syncCond.Wait()
		}
		return nil

	default:
		return nil
	}
}

// doGroupCommit performs the actual fsync and wakes waiting writers.
// Caller must hold w.mu.
func (w *WAL) doGroupCommit() error {
	if w.groupCommitPending == 0 {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.groupCommitPending = 0
	w.persistedSeq = w.appendSeq
	w.syncCond.Broadcast()
	return nil
}

// groupCommitWorker runs in a background goroutine and fsyncs periodically.
func (w *WAL) groupCommitWorker() {
	defer w.groupCommitWg.Done()

	for {
		select {
		case <-w.groupCommitStopCh:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
			return

		case <-w.groupCommitTicker.C:
			w.mu.Lock()
			_ = w.doGroupCommit()
			w.mu.Unlock()
		}
	}
}

// SetCompactFunc sets the function called when an auto-compaction threshold
// is exceeded. The callback is typically the store's Compact method and runs
// on a background goroutine, never on the appending goroutine.
func (w *WAL) SetCompactFunc(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.compactFunc = fn
	if fn != nil && w.compactCh == nil {
		w.compactCh = make(chan struct{}, 1)
		w.compactStopCh = make(chan struct{})
		w.compactWg.Add(1)
		go w.compactWorker()
	}
}

// maybeCompactLocked signals the background compactor when a threshold is
// exceeded. The signal is non-blocking: the append path must not wait on
// compaction, whose callback re-enters the store. Caller holds w.mu.
func (w *WAL) maybeCompactLocked() {
	if w.compactCh == nil {
		return
	}

	over := w.autoCompactOps > 0 && w.appendsSinceCompact >= w.autoCompactOps
	if !over && w.autoCompactMB > 0 {
		if stat, err := w.file.Stat(); err == nil {
			over = stat.Size()/(1024*1024) >= int64(w.autoCompactMB)
		}
	}
	if !over {
		return
	}

	w.appendsSinceCompact = 0
	select {
	case w.compactCh <- struct{}{}:
	default: // a compaction is already pending
	}
}

// compactWorker runs auto-compaction in a background goroutine.
func (w *WAL) compactWorker() {
	defer w.compactWg.Done()

	for {
		select {
		case <-w.compactStopCh:
			return

		case <-w.compactCh:
			w.mu.Lock()
			fn := w.compactFunc
			w.mu.Unlock()
			if fn != nil {
				_ = fn()
			}
		}
	}
}

// Close stops the background workers, flushes pending records and closes
// the file. Close is idempotent; the log is unusable afterwards.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	if w.compactStopCh != nil {
		close(w.compactStopCh)
		w.mu.Unlock()
		w.compactWg.Wait()
		w.mu.Lock()
		w.compactStopCh = nil
		w.compactCh = nil
	}

	if w.groupCommitTicker != nil {
		close(w.groupCommitStopCh)
		w.mu.Unlock()
		w.groupCommitWg.Wait()
		w.mu.Lock()
		w.groupCommitTicker.Stop()
		w.groupCommitTicker = nil
	}

	if err := w.flushLocked(); err != nil {
		return err
	}
	if w.compressed && w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compressor: %w", err)
		}
	}
	if w.decompressor != nil {
		w.decompressor.Close()
	}
	if err := w.file.Sync(); err != nil {
		return err
	}

	err := w.file.Close()
	w.file = nil
	return err
}
