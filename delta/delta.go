// Package delta implements the sync wire format: a self-describing batch of
// records exchanged between replicas.
//
// A delta starts with the magic "FGD1", a codec byte and a record count,
// followed by the framed record encodings, optionally compressed. Decoding
// is atomic: any malformed byte rejects the whole delta with ErrDecode and
// no partial result.
package delta

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/factgo/codec"
	"github.com/hupe1980/factgo/model"
)

// ErrDecode is returned when a delta payload cannot be decoded. The payload
// is rejected as a whole.
var ErrDecode = errors.New("delta: decode failed")

// Codec selects the compression applied to the record payload.
type Codec uint8

const (
	// CodecNone stores records uncompressed.
	CodecNone Codec = iota

	// CodecZstd compresses the payload with zstd.
	CodecZstd

	// CodecLZ4 compresses the payload with lz4.
	CodecLZ4
)

// Valid reports whether the codec is a known value.
func (c Codec) Valid() bool { return c <= CodecLZ4 }

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

var deltaMagic = [4]byte{'F', 'G', 'D', '1'}

const maxRecordCount = 1 << 30

// Options contains configuration for encoding a delta.
type Options struct {
	// Codec selects the payload compression. Defaults to CodecZstd.
	Codec Codec
}

// DefaultOptions returns default encode options.
var DefaultOptions = Options{
	Codec: CodecZstd,
}

// Encode writes records to w as one delta.
func Encode(w io.Writer, records []model.Record, optFns ...func(o *Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Codec.Valid() {
		return fmt.Errorf("delta: unknown codec %d", opts.Codec)
	}

	var hdr [9]byte
	copy(hdr[0:4], deltaMagic[:])
	hdr[4] = byte(opts.Codec)
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(records))) //nolint:gosec // bounded by maxRecordCount
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write delta header: %w", err)
	}

	payload, closePayload, err := payloadWriter(w, opts.Codec)
	if err != nil {
		return err
	}

	for i := range records {
		if err := codec.WriteRecord(payload, &records[i]); err != nil {
			return fmt.Errorf("failed to encode delta record: %w", err)
		}
	}
	return closePayload()
}

// Decode reads one delta from r and returns its records. On any error the
// whole delta is rejected and no records are returned.
func Decode(r io.Reader) ([]model.Record, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrDecode, err)
	}
	if !bytes.Equal(hdr[0:4], deltaMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrDecode, hdr[0:4])
	}

	c := Codec(hdr[4])
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown codec %d", ErrDecode, hdr[4])
	}

	count := binary.LittleEndian.Uint32(hdr[5:9])
	if count > maxRecordCount {
		return nil, fmt.Errorf("%w: implausible record count %d", ErrDecode, count)
	}

	payload, closePayload, err := payloadReader(r, c)
	if err != nil {
		return nil, err
	}
	defer closePayload()

	// The header count is untrusted until the payload proves it; cap the
	// upfront allocation so a garbage count cannot exhaust memory before
	// the first record fails to decode.
	capHint := count
	if capHint > 4096 {
		capHint = 4096
	}
	records := make([]model.Record, 0, capHint)
	for i := uint32(0); i < count; i++ {
		rec, err := codec.ReadRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrDecode, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func payloadWriter(w io.Writer, c Codec) (io.Writer, func() error, error) {
	switch c {
	case CodecZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, zw.Close, nil
	case CodecLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}

func payloadReader(r io.Reader, c Codec) (io.Reader, func(), error) {
	switch c {
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %v", ErrDecode, err)
		}
		return zr.IOReadCloser(), zr.Close, nil
	case CodecLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return bufio.NewReader(r), func() {}, nil
	}
}
