package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/factgo/codec"
	"github.com/hupe1980/factgo/model"
	"github.com/hupe1980/factgo/resource"
)

// Compact rewrites the log to contain only the given records, dropping every
// superseded version. The caller supplies the current winning record per
// identifier, tombstones included.
//
// The rewrite is atomic from a reader's perspective: records are written to
// a sibling file, fsynced, and renamed over the log, so a crash mid-compact
// leaves either the old or the new log intact, never a truncated one.
func (w *WAL) Compact(records iter.Seq[model.Record]) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("wal: closed")
	}

	// Make sure everything appended so far is on disk before the old log
	// becomes the fallback of the rename.
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}

	tmpPath := w.filePath + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // G304: derived from configured path
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := w.writeCompacted(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close compaction file: %w", err)
	}

	if err := os.Rename(tmpPath, w.filePath); err != nil {
		return fmt.Errorf("failed to swap compacted log: %w", err)
	}

	// The old handle now points at an unlinked inode; reopen the new log.
	if w.compressed && w.compressor != nil {
		_ = w.compressor.Close()
	}
	_ = w.file.Close()

	file, err := os.OpenFile(w.filePath, os.O_RDWR, 0600) //nolint:gosec // G304: derived from configured path
	if err != nil {
		return fmt.Errorf("failed to reopen compacted log: %w", err)
	}
	w.file = file

	hdrInfo, valid, err := readLogHeader(w.file)
	if err != nil || !valid {
		_ = w.file.Close()
		w.file = nil
		if err == nil {
			err = fmt.Errorf("%w: missing header", ErrCorrupted)
		}
		return err
	}
	w.dataOffset = hdrInfo.HeaderLen

	if w.decompressor != nil {
		w.decompressor.Close()
		w.decompressor = nil
	}
	if err := w.initCodecs(); err != nil {
		_ = w.file.Close()
		w.file = nil
		return err
	}

	w.appendsSinceCompact = 0
	w.tornTail = false
	w.groupCommitPending = 0
	w.persistedSeq = w.appendSeq
	w.syncCond.Broadcast()

	return nil
}

// writeCompacted streams header and records into out, honoring the
// configured compression and IO rate limit.
func (w *WAL) writeCompacted(out *os.File, records iter.Seq[model.Record]) error {
	if _, err := writeLogHeader(out, logHeaderInfo{
		Compressed:       w.compressed,
		CompressionLevel: w.compressionLevel,
	}); err != nil {
		return err
	}

	var sink io.Writer = out
	if w.compactBytesPerSec > 0 {
		rc := resource.NewController(resource.Config{IOLimitBytesPerSec: int64(w.compactBytesPerSec)})
		sink = resource.NewRateLimitedWriter(context.Background(), out, rc)
	}

	var compressor *zstd.Encoder
	if w.compressed {
		level := zstd.EncoderLevelFromZstd(w.compressionLevel)
		enc, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("failed to create compaction compressor: %w", err)
		}
		compressor = enc
		sink = enc
	}

	bw := bufio.NewWriter(sink)
	for rec := range records {
		if err := codec.WriteRecord(bw, &rec); err != nil {
			return fmt.Errorf("failed to write compacted record %s: %w", rec.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush compaction buffer: %w", err)
	}
	if compressor != nil {
		if err := compressor.Close(); err != nil {
			return fmt.Errorf("failed to close compaction compressor: %w", err)
		}
	}
	return nil
}
