// Package model defines the record shapes stored in the log and exchanged
// between replicas.
package model

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/factgo/core"
)

// Kind discriminates the object classes in the fact graph.
type Kind uint8

const (
	// KindEntity is a bare node: an identifier with no payload of its own,
	// anchoring atoms and links.
	KindEntity Kind = iota + 1
	// KindAtom is a single labeled key/value fact attached to an entity.
	KindAtom
	// KindLink is a directed labeled edge between two entities.
	KindLink
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k >= KindEntity && k <= KindLink }

// String returns a string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindAtom:
		return "atom"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is the full state of one object at one version. It is the unit of
// the write-ahead log, the sync delta, and the in-memory index: an object's
// visible state is always exactly the highest-version Record observed for
// its identifier.
//
// A Record with Deleted set is a tombstone. Tombstones keep Kind, Owner and
// Label so indexes can unhook the object and subscribers can learn which
// fact died; Value is nil.
type Record struct {
	ID      core.ID
	Kind    Kind
	Owner   core.ID // atom owner or link source; zero for entities
	Target  core.ID // link destination; zero otherwise
	Label   []byte
	Value   []byte
	Version core.Version
	Deleted bool
}

// Clone returns a deep copy of the record. Label and Value buffers are
// duplicated so callers can hold the copy across later mutations.
func (r Record) Clone() Record {
	out := r
	if r.Label != nil {
		out.Label = append([]byte(nil), r.Label...)
	}
	if r.Value != nil {
		out.Value = append([]byte(nil), r.Value...)
	}
	return out
}

// Supersedes reports whether r wins over prior under the merge rule:
// strictly higher (counter, replica) version. Tombstones compare exactly
// like value writes.
func (r Record) Supersedes(prior Record) bool {
	return r.Version.Newer(prior.Version)
}

// Equal reports whether two records describe the same object state.
func (r Record) Equal(other Record) bool {
	return r.ID == other.ID &&
		r.Kind == other.Kind &&
		r.Owner == other.Owner &&
		r.Target == other.Target &&
		r.Version == other.Version &&
		r.Deleted == other.Deleted &&
		bytes.Equal(r.Label, other.Label) &&
		bytes.Equal(r.Value, other.Value)
}
