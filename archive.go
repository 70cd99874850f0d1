package factgo

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/factgo/blobstore"
	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/delta"
	"github.com/hupe1980/factgo/model"
	"github.com/hupe1980/factgo/resource"
)

var archiveMagic = [4]byte{'F', 'G', 'A', '1'}

// ErrArchiveMalformed is returned when an archive manifest cannot be decoded.
var ErrArchiveMalformed = errors.New("malformed archive manifest")

// Checkpointer records the latest committed archive, e.g. the
// DynamoDB-backed s3.CheckpointStore.
type Checkpointer interface {
	Commit(ctx context.Context, blobName string) (uint64, error)
	Latest(ctx context.Context) (uint64, string, error)
}

// ArchiveOptions contains configuration for Archive.
type ArchiveOptions struct {
	// SegmentRecords caps the records per uploaded segment.
	SegmentRecords int

	// Parallelism bounds concurrent segment uploads.
	Parallelism int

	// Codec selects the segment compression.
	Codec delta.Codec

	// Controller optionally rate-limits upload IO.
	Controller *resource.Controller

	// Checkpoint optionally records the archive as the latest one.
	Checkpoint Checkpointer
}

// DefaultArchiveOptions returns default archive options.
var DefaultArchiveOptions = ArchiveOptions{
	SegmentRecords: 4096,
	Parallelism:    4,
	Codec:          delta.CodecZstd,
}

// Archive writes a full snapshot of the store to the blob store and returns
// the archive name. The snapshot holds the winning record per identifier,
// tombstones included, plus the replica clock, so a restore reproduces the
// exact merge state.
//
// Segments are uploaded in parallel; the manifest is written last, so a
// partially uploaded archive is never listed as complete.
func (db *DB) Archive(ctx context.Context, store blobstore.Store, optFns ...func(o *ArchiveOptions)) (string, error) {
	if db.closed.Load() {
		return "", ErrClosed
	}

	opts := DefaultArchiveOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	var recs []model.Record
	for rec := range db.store.Records() {
		recs = append(recs, rec)
	}
	clock := db.store.Clock()

	name := fmt.Sprintf("archive/%s-%s",
		time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())

	segCount := (len(recs) + opts.SegmentRecords - 1) / opts.SegmentRecords
	segments := make([]string, segCount)
	for i := range segments {
		segments[i] = path.Join(name, fmt.Sprintf("seg-%05d.delta", i))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, seg := range segments {
		start := i * opts.SegmentRecords
		end := min(start+opts.SegmentRecords, len(recs))
		g.Go(func() error {
			var buf bytes.Buffer
			if err := delta.Encode(&buf, recs[start:end], func(o *delta.Options) {
				o.Codec = opts.Codec
			}); err != nil {
				return fmt.Errorf("failed to encode segment %s: %w", seg, err)
			}
			if opts.Controller != nil {
				if err := opts.Controller.AcquireIO(gctx, buf.Len()); err != nil {
					return err
				}
			}
			return store.Put(gctx, seg, buf.Bytes())
		})
	}
	if err := g.Wait(); err != nil {
		db.logger.LogArchive(ctx, name, len(segments), err)
		return "", err
	}

	manifest, err := encodeManifest(clock, segments)
	if err != nil {
		return "", err
	}
	manifestName := path.Join(name, "MANIFEST")
	if err := store.Put(ctx, manifestName, manifest); err != nil {
		db.logger.LogArchive(ctx, name, len(segments), err)
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	if opts.Checkpoint != nil {
		if _, err := opts.Checkpoint.Commit(ctx, name); err != nil {
			db.logger.LogArchive(ctx, name, len(segments), err)
			return "", err
		}
	}

	db.logger.LogArchive(ctx, name, len(segments), nil)
	return name, nil
}

// Restore merges the named archive into the store. Restore goes through the
// same merge rule as sync, so restoring an old archive into a newer store
// never regresses state. Returns the number of records merged.
func (db *DB) Restore(ctx context.Context, store blobstore.Store, name string) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}

	manifest, err := blobstore.ReadAll(ctx, store, path.Join(name, "MANIFEST"))
	if err != nil {
		return 0, fmt.Errorf("failed to read manifest: %w", err)
	}
	_, segments, err := decodeManifest(manifest)
	if err != nil {
		return 0, err
	}

	decoded := make([][]model.Record, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultArchiveOptions.Parallelism)
	for i, seg := range segments {
		g.Go(func() error {
			data, err := blobstore.ReadAll(gctx, store, seg)
			if err != nil {
				return fmt.Errorf("failed to read segment %s: %w", seg, err)
			}
			recs, err := delta.Decode(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg, err)
			}
			decoded[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		db.logger.LogArchive(ctx, name, len(segments), err)
		return 0, err
	}

	total := 0
	for _, recs := range decoded {
		if err := db.store.ImportRecords(recs); err != nil {
			db.logger.LogArchive(ctx, name, len(segments), err)
			return total, err
		}
		total += len(recs)
	}

	db.logger.LogArchive(ctx, name, len(segments), nil)
	return total, nil
}

// encodeManifest serializes the archive manifest: magic, replica clock,
// segment names.
func encodeManifest(clock core.ReplicaClock, segments []string) ([]byte, error) {
	clockBytes, err := clock.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(archiveMagic[:])
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(clockBytes)))) //nolint:gosec
	buf.Write(clockBytes)
	buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(segments)))) //nolint:gosec
	for _, seg := range segments {
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(seg)))) //nolint:gosec
		buf.WriteString(seg)
	}
	return buf.Bytes(), nil
}

func decodeManifest(data []byte) (core.ReplicaClock, []string, error) {
	if len(data) < 8 || !bytes.Equal(data[0:4], archiveMagic[:]) {
		return nil, nil, ErrArchiveMalformed
	}
	off := 4

	clockLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+clockLen+4 > len(data) {
		return nil, nil, ErrArchiveMalformed
	}
	var clock core.ReplicaClock
	if err := clock.UnmarshalBinary(data[off : off+clockLen]); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrArchiveMalformed, err)
	}
	off += clockLen

	count := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4

	segments := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(data) {
			return nil, nil, ErrArchiveMalformed
		}
		segLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+segLen > len(data) {
			return nil, nil, ErrArchiveMalformed
		}
		segments = append(segments, string(data[off:off+segLen]))
		off += segLen
	}
	return clock, segments, nil
}
