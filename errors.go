package factgo

import (
	"errors"

	"github.com/hupe1980/factgo/delta"
	"github.com/hupe1980/factgo/engine"
	"github.com/hupe1980/factgo/wal"
)

var (
	// ErrClosed is returned when the database has been closed.
	ErrClosed = errors.New("database is closed")

	// ErrNotFound is returned when no live object exists for an identifier.
	ErrNotFound = engine.ErrNotFound

	// ErrInvalidReference is returned when a write references an entity that
	// does not exist or has been tombstoned.
	ErrInvalidReference = engine.ErrInvalidReference

	// ErrCorrupted is returned when the log contains corruption beyond a
	// torn trailing record.
	ErrCorrupted = wal.ErrCorrupted

	// ErrDecode is returned when a sync delta cannot be decoded.
	ErrDecode = delta.ErrDecode
)
