package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/factgo/codec"
	"github.com/hupe1980/factgo/model"
)

// Replay replays every record in append order by calling fn.
//
// A torn trailing record (an interrupted write at the end of the stream) is
// discarded: on an uncompressed log the file is truncated back to the last
// complete record so the tail cannot shadow future appends; on a compressed
// log the tail cannot be cut, so the torn state is recorded and Append
// fails with ErrTornTail until Compact rewrites the log. Any other
// integrity failure (checksum mismatch, malformed frame, I/O error) returns
// ErrCorrupted and the store must not start.
//
// Replay must run before the first Append.
func (w *WAL) Replay(fn func(rec model.Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("wal: closed")
	}
	if _, err := w.file.Seek(w.dataOffset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek log start: %w", err)
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	goodOffset := w.dataOffset

	for {
		body, err := codec.ReadFrame(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// Torn trailing record from an interrupted write. On an
			// uncompressed log we can cut the file back to the last
			// complete frame. A compressed stream cannot be cut at a
			// frame boundary: appending after the damage would put good
			// records behind an undecodable prefix, so writes are
			// refused until compaction rewrites the log.
			if w.compressed {
				w.tornTail = true
			} else if terr := w.file.Truncate(goodOffset); terr != nil {
				return fmt.Errorf("failed to truncate torn log tail: %w", terr)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}

		rec, err := codec.DecodeRecord(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("failed to replay record %s: %w", rec.ID, err)
		}
		goodOffset += int64(codec.FrameSize(body))
	}

	// Seek back to the end for appending.
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log end: %w", err)
	}
	return nil
}

// Len returns the number of complete records in the log. Intended for tests
// and the inspect tooling.
func (w *WAL) Len() (int, error) {
	count := 0
	err := w.Replay(func(model.Record) error {
		count++
		return nil
	})
	return count, err
}
