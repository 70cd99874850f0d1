package factgo

import (
	"log/slog"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/wal"
)

type options struct {
	logger     *Logger
	replica    core.ReplicaID
	walOptions []func(*wal.Options)
}

// Option configures database constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithReplicaID pins the replica id instead of loading or generating one.
//
// Two live stores sharing a replica id break version monotonicity; use this
// only when the caller manages replica identity itself.
func WithReplicaID(r core.ReplicaID) Option {
	return func(o *options) {
		o.replica = r
	}
}

// WithWALOptions configures the write-ahead log.
//
// Example:
//
//	db, _ := factgo.Open("./data", factgo.WithWALOptions(func(o *wal.Options) {
//	    o.DurabilityMode = wal.DurabilitySync
//	    o.AutoCompactOps = 50000
//	}))
func WithWALOptions(optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walOptions = append(o.walOptions, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
