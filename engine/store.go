// Package engine implements the authoritative in-memory store: the graph
// indexes and the single mutation path shared by local writers, log replay,
// and delta import.
//
// Every write funnels through one internal apply primitive, so local and
// merged remote mutations obey the identical conflict rule and the identical
// notification fan-out. Apply is idempotent: re-applying an observed
// (id, version) pair is a no-op.
package engine

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

// source discriminates where a record entered the mutation path.
type source uint8

const (
	sourceLocal  source = iota // Store mutation API
	sourceReplay               // log replay on startup
	sourceImport               // sync delta import
)

// Options contains configuration for the Store.
type Options struct {
	// Appender receives every winning write before the in-memory index is
	// updated. Defaults to NoopAppender (no persistence).
	Appender Appender

	// Notifier receives every winning write after the index update.
	// Optional.
	Notifier Notifier
}

// DefaultOptions returns default store options.
var DefaultOptions = Options{
	Appender: NoopAppender{},
}

// Store is the single authoritative in-memory representation of the fact
// graph for one replica.
//
// Mutations are serialized under one writer lock; reads operate on snapshots
// taken under a short-lived shared lock and never block on a writer beyond
// that.
type Store struct {
	mu      sync.RWMutex
	replica core.ReplicaID
	counter uint64            // local logical clock, kept ahead of every version seen
	clock   core.ReplicaClock // highest counter observed per replica, self included

	objects map[core.ID]model.Record
	byOwner map[core.ID]map[core.ID]struct{}
	locals  *localIndex
	labels  *labelIndex

	log    Appender
	notify Notifier
}

// New creates an empty store for the given replica.
func New(replica core.ReplicaID, optFns ...func(o *Options)) *Store {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Appender == nil {
		opts.Appender = NoopAppender{}
	}

	return &Store{
		replica: replica,
		clock:   make(core.ReplicaClock),
		objects: make(map[core.ID]model.Record),
		byOwner: make(map[core.ID]map[core.ID]struct{}),
		locals:  newLocalIndex(),
		labels:  newLabelIndex(),
		log:     opts.Appender,
		notify:  opts.Notifier,
	}
}

// Replica returns the id of this store instance.
func (s *Store) Replica() core.ReplicaID { return s.replica }

// Clock returns a copy of the replica clock: the highest counter observed
// from every replica, including this one. It is the "since" token remote
// replicas use to request an incremental export.
func (s *Store) Clock() core.ReplicaClock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Clone()
}

// Len returns the number of live (non-tombstoned) objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.objects {
		if !rec.Deleted {
			n++
		}
	}
	return n
}

// CreateEntity allocates a fresh entity, applies it and returns its id.
func (s *Store) CreateEntity() (core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := model.Record{
		ID:      core.NewRandom(),
		Kind:    model.KindEntity,
		Version: s.stampLocked(),
	}
	if err := s.apply(rec, sourceLocal); err != nil {
		return core.Zero, err
	}
	return rec.ID, nil
}

// SetAtom writes the atom named by label under owner, overwriting any
// previous value of the same (owner, label) pair, and returns the atom id.
// The id is derived deterministically, so concurrent replicas writing the
// same logical fact contend on one object instead of duplicating it.
func (s *Store) SetAtom(owner core.ID, label, value []byte) (core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.entityLiveLocked(owner) {
		return core.Zero, fmt.Errorf("%w: atom owner %s", ErrInvalidReference, owner)
	}

	rec := model.Record{
		ID:      core.Derive(owner, label),
		Kind:    model.KindAtom,
		Owner:   owner,
		Label:   append([]byte(nil), label...),
		Value:   append([]byte(nil), value...),
		Version: s.stampLocked(),
	}
	if err := s.apply(rec, sourceLocal); err != nil {
		return core.Zero, err
	}
	return rec.ID, nil
}

// SetLink writes the labeled link from source to target and returns the
// link id. Like atoms, the id is derived from (source, label).
func (s *Store) SetLink(src, target core.ID, label []byte) (core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.entityLiveLocked(src) {
		return core.Zero, fmt.Errorf("%w: link source %s", ErrInvalidReference, src)
	}
	if !s.entityLiveLocked(target) {
		return core.Zero, fmt.Errorf("%w: link target %s", ErrInvalidReference, target)
	}

	rec := model.Record{
		ID:      core.Derive(src, label),
		Kind:    model.KindLink,
		Owner:   src,
		Target:  target,
		Label:   append([]byte(nil), label...),
		Version: s.stampLocked(),
	}
	if err := s.apply(rec, sourceLocal); err != nil {
		return core.Zero, err
	}
	return rec.ID, nil
}

// Remove tombstones the object with the given id at a fresh local version.
// The tombstone propagates through sync like any other write.
func (s *Store) Remove(id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, ok := s.objects[id]
	if !ok || prior.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec := prior.Clone()
	rec.Value = nil
	rec.Deleted = true
	rec.Version = s.stampLocked()
	return s.apply(rec, sourceLocal)
}

// Get returns the current state of the object, or false if it is unknown or
// tombstoned.
func (s *Store) Get(id core.ID) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.objects[id]
	if !ok || rec.Deleted {
		return model.Record{}, false
	}
	return rec.Clone(), true
}

// QueryByOwner returns the live atoms and links currently attached to the
// entity. The sequence is a point-in-time snapshot: finite, re-enumerable,
// and unaffected by concurrent mutation.
func (s *Store) QueryByOwner(entity core.ID) iter.Seq[model.Record] {
	s.mu.RLock()
	children := s.byOwner[entity]
	recs := make([]model.Record, 0, len(children))
	for id := range children {
		if rec, ok := s.objects[id]; ok && !rec.Deleted {
			recs = append(recs, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(recs)
	return sliceSeq(recs)
}

// QueryLinksBySource returns the live links whose source is the given
// entity.
func (s *Store) QueryLinksBySource(src core.ID) iter.Seq[model.Record] {
	s.mu.RLock()
	children := s.byOwner[src]
	recs := make([]model.Record, 0, len(children))
	for id := range children {
		if rec, ok := s.objects[id]; ok && !rec.Deleted && rec.Kind == model.KindLink {
			recs = append(recs, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(recs)
	return sliceSeq(recs)
}

// QueryByLabel returns the live atoms and links carrying the given label.
func (s *Store) QueryByLabel(label []byte) iter.Seq[model.Record] {
	s.mu.RLock()
	recs := s.collectLocked(s.labels.byLabel(label))
	s.mu.RUnlock()

	sortRecords(recs)
	return sliceSeq(recs)
}

// QueryLinksByLabelTarget returns the live links with the given label that
// point at target.
func (s *Store) QueryLinksByLabelTarget(label []byte, target core.ID) iter.Seq[model.Record] {
	s.mu.RLock()
	recs := s.collectLocked(s.labels.byLabelTarget(label, target))
	s.mu.RUnlock()

	sortRecords(recs)
	return sliceSeq(recs)
}

// Records returns a snapshot of the current winning record for every
// identifier, tombstones included. This is the input to log compaction and
// archival.
func (s *Store) Records() iter.Seq[model.Record] {
	s.mu.RLock()
	recs := make([]model.Record, 0, len(s.objects))
	for _, rec := range s.objects {
		recs = append(recs, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecords(recs)
	return sliceSeq(recs)
}

// ExportSince returns every record whose version the given clock has not
// observed. The result is deterministic for a given store state and clock:
// sorted by (replica, counter, id).
func (s *Store) ExportSince(since core.ReplicaClock) []model.Record {
	s.mu.RLock()
	var recs []model.Record
	for _, rec := range s.objects {
		if !since.Covers(rec.Version) {
			recs = append(recs, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Version, recs[j].Version
		if a.Replica != b.Replica {
			return a.Replica < b.Replica
		}
		if a.Counter != b.Counter {
			return a.Counter < b.Counter
		}
		return recs[i].ID.Less(recs[j].ID)
	})
	return recs
}

// ImportRecords merges remote records through the shared apply primitive.
// Ordering within the batch is immaterial; a failure to persist one record
// never aborts the others.
func (s *Store) ImportRecords(recs []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		if err := s.apply(rec.Clone(), sourceImport); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recover applies a record replayed from the log. Replayed records are not
// re-appended and produce no notifications.
func (s *Store) Recover(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(rec, sourceReplay)
}

// CollectGarbage tombstones atoms and links whose owning entity has been
// tombstoned. Orphans are never cleaned up implicitly; this explicit pass is
// the only way they go away. Returns the number of objects tombstoned.
func (s *Store) CollectGarbage() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []model.Record
	for _, rec := range s.objects {
		if rec.Deleted || rec.Kind == model.KindEntity {
			continue
		}
		if owner, ok := s.objects[rec.Owner]; !ok || owner.Deleted {
			orphans = append(orphans, rec)
		}
	}

	var errs []error
	for _, prior := range orphans {
		rec := prior.Clone()
		rec.Value = nil
		rec.Deleted = true
		rec.Version = s.stampLocked()
		if err := s.apply(rec, sourceLocal); err != nil {
			errs = append(errs, err)
		}
	}
	return len(orphans) - len(errs), errors.Join(errs...)
}

// stampLocked returns a fresh local version. The counter stays ahead of
// every version the store has observed, so a new local write supersedes
// everything it causally follows.
func (s *Store) stampLocked() core.Version {
	s.counter++
	return core.Version{Counter: s.counter, Replica: s.replica}
}

// apply is the single mutation primitive shared by local writes, replay and
// import. Caller must hold s.mu for writing.
func (s *Store) apply(rec model.Record, src source) error {
	prior, exists := s.objects[rec.ID]
	if exists && !rec.Supersedes(prior) {
		// Losing or duplicate write: a no-op apart from clock bookkeeping.
		s.observeLocked(rec.Version)
		return nil
	}

	// Write-ahead ordering: the record must be durable before the index
	// changes. Replay is reading the log, so it skips the append.
	if src != sourceReplay {
		if err := s.log.Append(&rec); err != nil {
			return fmt.Errorf("failed to append record %s: %w", rec.ID, err)
		}
	}

	if exists {
		s.unindexLocked(&prior)
	}
	s.objects[rec.ID] = rec
	if !rec.Deleted {
		s.indexLocked(&rec)
	}
	s.observeLocked(rec.Version)

	if src != sourceReplay && s.notify != nil {
		s.notify.Publish(rec.Clone())
	}
	return nil
}

func (s *Store) observeLocked(v core.Version) {
	s.clock.Observe(v)
	if v.Counter > s.counter {
		s.counter = v.Counter
	}
}

func (s *Store) entityLiveLocked(id core.ID) bool {
	rec, ok := s.objects[id]
	return ok && rec.Kind == model.KindEntity && !rec.Deleted
}

func (s *Store) indexLocked(rec *model.Record) {
	if rec.Kind == model.KindEntity {
		return
	}
	children, ok := s.byOwner[rec.Owner]
	if !ok {
		children = make(map[core.ID]struct{})
		s.byOwner[rec.Owner] = children
	}
	children[rec.ID] = struct{}{}
	s.labels.add(rec, s.locals.localize(rec.ID))
}

func (s *Store) unindexLocked(prior *model.Record) {
	if prior.Kind == model.KindEntity || prior.Deleted {
		return
	}
	if children, ok := s.byOwner[prior.Owner]; ok {
		delete(children, prior.ID)
		if len(children) == 0 {
			delete(s.byOwner, prior.Owner)
		}
	}
	s.labels.remove(prior, s.locals.localize(prior.ID))
}

// collectLocked materializes the live records for a bitmap of locals.
// Caller must hold s.mu.
func (s *Store) collectLocked(bm *LocalBitmap) []model.Record {
	recs := make([]model.Record, 0, bm.Cardinality())
	for local := range bm.Iterator() {
		if rec, ok := s.objects[s.locals.lookup(local)]; ok && !rec.Deleted {
			recs = append(recs, rec.Clone())
		}
	}
	return recs
}

func sortRecords(recs []model.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID.Less(recs[j].ID) })
}

func sliceSeq(recs []model.Record) iter.Seq[model.Record] {
	return func(yield func(model.Record) bool) {
		for _, rec := range recs {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}
