// Package factgo is an embedded, local-first store for a typed fact graph.
//
// Facts are entities, atoms (labeled values owned by an entity) and links
// (labeled edges between entities). Every write is stamped with a version
// and survives crashes through an append-only log; replicas that mutate
// offline converge by exchanging deltas, with conflicts resolved
// last-writer-wins on the version order. Subscribers observe winning writes
// as they are applied.
package factgo

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/delta"
	"github.com/hupe1980/factgo/engine"
	"github.com/hupe1980/factgo/model"
	"github.com/hupe1980/factgo/wal"
	"github.com/hupe1980/factgo/watch"
)

// replicaFileName holds the persistent replica id of a store directory.
const replicaFileName = "REPLICA"

// DB is an embedded fact store bound to one directory (or to memory).
// Safe for concurrent use.
type DB struct {
	dir      string
	replica  core.ReplicaID
	store    *engine.Store
	wal      *wal.WAL
	registry *watch.Registry
	logger   *Logger
	closed   atomic.Bool
}

// Open opens the store in dir, creating it if necessary. Existing log
// records are replayed before Open returns, so the in-memory state reflects
// every write that reached disk.
func Open(dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	replica := o.replica
	if replica == 0 {
		var err error
		replica, err = loadOrCreateReplicaID(dir)
		if err != nil {
			return nil, err
		}
	}

	w, err := wal.New(append([]func(*wal.Options){
		func(wo *wal.Options) { wo.Path = dir },
	}, o.walOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	registry := watch.NewRegistry()
	store := engine.New(replica,
		func(eo *engine.Options) {
			eo.Appender = w
			eo.Notifier = registry
		},
	)

	db := &DB{
		dir:      dir,
		replica:  replica,
		store:    store,
		wal:      w,
		registry: registry,
		logger:   o.logger.WithReplica(replica),
	}

	replayed := 0
	err = w.Replay(func(rec model.Record) error {
		replayed++
		return store.Recover(rec)
	})
	db.logger.LogRecovery(context.Background(), replayed, err)
	if err != nil {
		registry.Close()
		w.Close()
		return nil, err
	}

	// A crash can leave a torn record inside a compressed stream. Rewrite
	// the log from the recovered state before accepting writes.
	if w.TornTail() {
		err := w.Compact(store.Records())
		db.logger.LogCompaction(context.Background(), store.Len(), err)
		if err != nil {
			registry.Close()
			w.Close()
			return nil, err
		}
	}

	w.SetCompactFunc(func() error {
		return w.Compact(store.Records())
	})

	return db, nil
}

// OpenInMemory opens a volatile store with no persistence. All semantics
// except durability are identical to a disk-backed store.
func OpenInMemory(optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)

	replica := o.replica
	if replica == 0 {
		replica = newReplicaID()
	}

	registry := watch.NewRegistry()
	store := engine.New(replica,
		func(eo *engine.Options) {
			eo.Notifier = registry
		},
	)

	return &DB{
		replica:  replica,
		store:    store,
		registry: registry,
		logger:   o.logger.WithReplica(replica),
	}, nil
}

// Replica returns the replica id of this store.
func (db *DB) Replica() core.ReplicaID { return db.replica }

// Clock returns the replica clock: the highest version counter observed per
// replica. Hand it to a remote replica to request everything it has that
// this store has not seen.
func (db *DB) Clock() core.ReplicaClock { return db.store.Clock() }

// Len returns the number of live objects.
func (db *DB) Len() int { return db.store.Len() }

// CreateEntity creates a fresh entity and returns its id.
func (db *DB) CreateEntity(ctx context.Context) (core.ID, error) {
	if db.closed.Load() {
		return core.Zero, ErrClosed
	}
	id, err := db.store.CreateEntity()
	db.logger.LogWrite(ctx, "create_entity", id, err)
	return id, err
}

// SetAtom writes the labeled value under the owning entity, overwriting any
// previous value of the same label, and returns the atom id.
func (db *DB) SetAtom(ctx context.Context, owner core.ID, label, value []byte) (core.ID, error) {
	if db.closed.Load() {
		return core.Zero, ErrClosed
	}
	id, err := db.store.SetAtom(owner, label, value)
	db.logger.LogWrite(ctx, "set_atom", id, err)
	return id, err
}

// SetLink writes the labeled link from source to target and returns the
// link id.
func (db *DB) SetLink(ctx context.Context, source, target core.ID, label []byte) (core.ID, error) {
	if db.closed.Load() {
		return core.Zero, ErrClosed
	}
	id, err := db.store.SetLink(source, target, label)
	db.logger.LogWrite(ctx, "set_link", id, err)
	return id, err
}

// Remove tombstones the object with the given id.
func (db *DB) Remove(ctx context.Context, id core.ID) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.store.Remove(id)
	db.logger.LogWrite(ctx, "remove", id, err)
	return err
}

// Get returns the current state of an object, or false if it is unknown or
// removed.
func (db *DB) Get(id core.ID) (model.Record, bool) {
	return db.store.Get(id)
}

// QueryByOwner returns the live atoms and links attached to the entity.
func (db *DB) QueryByOwner(entity core.ID) iter.Seq[model.Record] {
	return db.store.QueryByOwner(entity)
}

// QueryLinksBySource returns the live links originating at the entity.
func (db *DB) QueryLinksBySource(source core.ID) iter.Seq[model.Record] {
	return db.store.QueryLinksBySource(source)
}

// QueryByLabel returns the live atoms and links carrying the given label.
func (db *DB) QueryByLabel(label []byte) iter.Seq[model.Record] {
	return db.store.QueryByLabel(label)
}

// QueryLinksByLabelTarget returns the live links with the given label that
// point at target.
func (db *DB) QueryLinksByLabelTarget(label []byte, target core.ID) iter.Seq[model.Record] {
	return db.store.QueryLinksByLabelTarget(label, target)
}

// Subscribe registers fn for writes to the given id. Subscribing to an
// entity id also delivers writes to the atoms and links it owns.
func (db *DB) Subscribe(id core.ID, fn watch.Handler) *watch.Subscription {
	return db.registry.Subscribe(id, fn)
}

// ExportSince returns every record the given clock has not observed,
// in deterministic order. A nil clock exports everything.
func (db *DB) ExportSince(since core.ReplicaClock) []model.Record {
	return db.store.ExportSince(since)
}

// ExportDelta writes the records the given clock has not observed to w as
// one delta.
func (db *DB) ExportDelta(w io.Writer, since core.ReplicaClock, optFns ...func(o *delta.Options)) error {
	return delta.Encode(w, db.store.ExportSince(since), optFns...)
}

// ImportDelta decodes one delta from r and merges its records. Returns the
// number of records in the delta. A delta that fails to decode is rejected
// as a whole with no state change.
func (db *DB) ImportDelta(ctx context.Context, r io.Reader) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}

	recs, err := delta.Decode(r)
	if err != nil {
		db.logger.LogImport(ctx, 0, err)
		return 0, err
	}

	err = db.store.ImportRecords(recs)
	db.logger.LogImport(ctx, len(recs), err)
	return len(recs), err
}

// ImportRecords merges already-decoded records, e.g. from an archive.
func (db *DB) ImportRecords(ctx context.Context, recs []model.Record) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.store.ImportRecords(recs)
	db.logger.LogImport(ctx, len(recs), err)
	return err
}

// Compact rewrites the log to hold only the current winning record per
// identifier. In-memory state is unaffected.
func (db *DB) Compact(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if db.wal == nil {
		return nil
	}
	err := db.wal.Compact(db.store.Records())
	db.logger.LogCompaction(ctx, db.store.Len(), err)
	return err
}

// CollectGarbage tombstones atoms and links whose owning entity has been
// removed. Returns the number of objects collected.
func (db *DB) CollectGarbage(ctx context.Context) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	n, err := db.store.CollectGarbage()
	db.logger.LogGC(ctx, n, err)
	return n, err
}

// Close flushes and closes the log and stops notification delivery.
// Idempotent.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	db.registry.Close()
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}

// newReplicaID draws a random non-zero replica id.
func newReplicaID() core.ReplicaID {
	for {
		if r := core.ReplicaID(core.NewRandom().Lo); r != 0 {
			return r
		}
	}
}

// loadOrCreateReplicaID reads the directory's replica id, generating and
// persisting one on first open. The id must stay stable across reopens so
// version counters remain monotone per replica.
func loadOrCreateReplicaID(dir string) (core.ReplicaID, error) {
	path := filepath.Join(dir, replicaFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var r core.ReplicaID
		if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%x", (*uint64)(&r)); err != nil || r == 0 {
			return 0, fmt.Errorf("invalid replica id file %s", path)
		}
		return r, nil
	}
	if !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read replica id: %w", err)
	}

	r := newReplicaID()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%016x\n", uint64(r))), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write replica id: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to persist replica id: %w", err)
	}
	return r, nil
}
