// Package codec implements the binary record encoding shared by the
// write-ahead log and the sync delta wire format.
//
// Every record is framed as:
//
//	[BodyLen:4][CRC32:4][Body:BodyLen]
//
// with the CRC32 (IEEE) computed over the body. The frame makes torn writes
// detectable: a short body at the end of a stream reads as an incomplete
// frame, while a full-length body with a mismatching checksum is corruption.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

var (
	// ErrChecksum is returned when a frame's CRC32 does not match its body.
	ErrChecksum = errors.New("codec: checksum mismatch")

	// ErrMalformed is returned when a frame body cannot be decoded into a
	// record.
	ErrMalformed = errors.New("codec: malformed record")
)

// MaxBodyLen bounds a single record body. It protects replay from allocating
// unbounded memory off a corrupted length prefix.
const MaxBodyLen = 1 << 28 // 256 MiB

const (
	flagDeleted   = 1 << 0
	frameHdrLen   = 8
	bodyFixedLen  = 1 + 1 + 16 + 16 + 16 + 16 + 2 + 4 // kind, flags, id, version, owner, target, labelLen, valueLen
	maxLabelLen   = 1 << 16 // uint16 length prefix
	crcTablePoly  = crc32.IEEE
)

var crcTable = crc32.MakeTable(crcTablePoly)

// EncodeRecord returns the body encoding of a record.
//
// Layout (little-endian):
//
//	[Kind:1][Flags:1][ID:16][Counter:8][Replica:8][Owner:16][Target:16]
//	[LabelLen:2][Label][ValueLen:4][Value]
func EncodeRecord(rec *model.Record) ([]byte, error) {
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("%w: invalid kind %d", ErrMalformed, rec.Kind)
	}
	if len(rec.Label) >= maxLabelLen {
		return nil, fmt.Errorf("%w: label of %d bytes exceeds limit", ErrMalformed, len(rec.Label))
	}

	body := make([]byte, 0, bodyFixedLen+len(rec.Label)+len(rec.Value))
	body = append(body, byte(rec.Kind))

	var flags byte
	if rec.Deleted {
		flags |= flagDeleted
	}
	body = append(body, flags)

	body = appendID(body, rec.ID)
	body = binary.LittleEndian.AppendUint64(body, rec.Version.Counter)
	body = binary.LittleEndian.AppendUint64(body, uint64(rec.Version.Replica))
	body = appendID(body, rec.Owner)
	body = appendID(body, rec.Target)

	body = binary.LittleEndian.AppendUint16(body, uint16(len(rec.Label))) //nolint:gosec // bounded above
	body = append(body, rec.Label...)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(rec.Value))) //nolint:gosec
	body = append(body, rec.Value...)

	return body, nil
}

// DecodeRecord decodes a frame body produced by EncodeRecord.
func DecodeRecord(body []byte) (model.Record, error) {
	var rec model.Record
	if len(body) < bodyFixedLen {
		return rec, fmt.Errorf("%w: body of %d bytes too short", ErrMalformed, len(body))
	}

	rec.Kind = model.Kind(body[0])
	if !rec.Kind.Valid() {
		return rec, fmt.Errorf("%w: invalid kind %d", ErrMalformed, body[0])
	}
	rec.Deleted = body[1]&flagDeleted != 0
	off := 2

	rec.ID, off = readID(body, off)
	rec.Version.Counter = binary.LittleEndian.Uint64(body[off : off+8])
	rec.Version.Replica = core.ReplicaID(binary.LittleEndian.Uint64(body[off+8 : off+16]))
	off += 16
	rec.Owner, off = readID(body, off)
	rec.Target, off = readID(body, off)

	labelLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
	off += 2
	if off+labelLen+4 > len(body) {
		return rec, fmt.Errorf("%w: label length %d overflows body", ErrMalformed, labelLen)
	}
	if labelLen > 0 {
		rec.Label = append([]byte(nil), body[off:off+labelLen]...)
	}
	off += labelLen

	valueLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if off+valueLen != len(body) {
		return rec, fmt.Errorf("%w: value length %d does not match body", ErrMalformed, valueLen)
	}
	if valueLen > 0 {
		rec.Value = append([]byte(nil), body[off:off+valueLen]...)
	}

	return rec, nil
}

// WriteFrame writes one framed record body to w.
func WriteFrame(w io.Writer, body []byte) error {
	var hdr [frameHdrLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(body))) //nolint:gosec // bounded by MaxBodyLen
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(body, crcTable))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// WriteRecord encodes rec and writes it as one frame.
func WriteRecord(w io.Writer, rec *model.Record) error {
	body, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// ReadFrame reads one frame from r and returns its verified body.
//
// It returns io.EOF at a clean stream end, io.ErrUnexpectedEOF when the
// stream ends inside a frame (a torn write), and ErrChecksum when a
// full-length body fails verification. Any other reader failure (an I/O or
// decompression error) is returned wrapped, never masked as a short read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHdrLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("codec: failed to read frame header: %w", err)
	}

	bodyLen := binary.LittleEndian.Uint32(hdr[0:4])
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformed, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("codec: failed to read frame body: %w", err)
	}

	if crc32.Checksum(body, crcTable) != binary.LittleEndian.Uint32(hdr[4:8]) {
		return nil, ErrChecksum
	}
	return body, nil
}

// ReadRecord reads and decodes one framed record from r.
func ReadRecord(r io.Reader) (model.Record, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return model.Record{}, err
	}
	return DecodeRecord(body)
}

// FrameSize returns the on-stream size of a frame carrying body.
func FrameSize(body []byte) int { return frameHdrLen + len(body) }

func appendID(b []byte, id core.ID) []byte {
	b = binary.LittleEndian.AppendUint64(b, id.Hi)
	return binary.LittleEndian.AppendUint64(b, id.Lo)
}

func readID(b []byte, off int) (core.ID, int) {
	return core.ID{
		Hi: binary.LittleEndian.Uint64(b[off : off+8]),
		Lo: binary.LittleEndian.Uint64(b[off+8 : off+16]),
	}, off + 16
}
