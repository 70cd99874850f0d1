// Package testutil provides testing utilities for factgo.
//
// This package is intended for use in tests and benchmarks only. It provides
// deterministic record generators and helpers for driving multiple replicas
// in merge scenarios.
package testutil

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

// RNG encapsulates a seeded random number generator. It is thread-safe and
// reproducible for a given seed.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // test determinism
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// ID returns a pseudo-random identifier.
func (r *RNG) ID() core.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.ID{Hi: r.rand.Uint64(), Lo: r.rand.Uint64()}
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	r.rand.Read(b) //nolint:errcheck // never fails
	return b
}

// Shuffle pseudo-randomly permutes the records in place.
func (r *RNG) Shuffle(recs []model.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(len(recs), func(i, j int) {
		recs[i], recs[j] = recs[j], recs[i]
	})
}

// EntityRecord returns an entity record with the given version.
func EntityRecord(id core.ID, v core.Version) model.Record {
	return model.Record{ID: id, Kind: model.KindEntity, Version: v}
}

// AtomRecord returns an atom record owned by owner with a derived id.
func AtomRecord(owner core.ID, label, value []byte, v core.Version) model.Record {
	return model.Record{
		ID:      core.Derive(owner, label),
		Kind:    model.KindAtom,
		Owner:   owner,
		Label:   label,
		Value:   value,
		Version: v,
	}
}

// LinkRecord returns a link record from source to target with a derived id.
func LinkRecord(source, target core.ID, label []byte, v core.Version) model.Record {
	return model.Record{
		ID:      core.Derive(source, label),
		Kind:    model.KindLink,
		Owner:   source,
		Target:  target,
		Label:   label,
		Version: v,
	}
}

// Tombstone returns rec as a tombstone at the given version.
func Tombstone(rec model.Record, v core.Version) model.Record {
	out := rec.Clone()
	out.Value = nil
	out.Deleted = true
	out.Version = v
	return out
}

// Labels returns n distinct labels with the given prefix.
func Labels(prefix string, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("%s-%03d", prefix, i))
	}
	return out
}
