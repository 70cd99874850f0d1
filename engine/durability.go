package engine

import "github.com/hupe1980/factgo/model"

// Appender abstracts the write-ahead log used by the store.
//
// When backed by a WAL, Append persists the record before the in-memory
// index is updated. When durability is disabled, NoopAppender keeps the
// exact same mutation pipeline without disk IO.
//
// A *wal.WAL satisfies this interface.
type Appender interface {
	Append(rec *model.Record) error
	Close() error
}

// NoopAppender implements Appender with no persistence.
type NoopAppender struct{}

func (NoopAppender) Append(*model.Record) error { return nil }
func (NoopAppender) Close() error               { return nil }

// Notifier receives every winning write the store applies. The watch
// package's Registry satisfies this interface.
type Notifier interface {
	Publish(rec model.Record)
}
