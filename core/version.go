package core

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ReplicaID identifies one independently running store instance (one device).
type ReplicaID uint64

// Version is the logical clock value stamped on every write. Wall-clock time
// is never consulted, so merge results do not depend on clock skew between
// devices.
//
// The zero Version sorts before any stamped version.
type Version struct {
	Counter uint64
	Replica ReplicaID
}

// Compare orders versions by (Counter, Replica). A tie on Counter is broken
// by the numeric replica id, giving every replica the same total order
// regardless of delivery order.
func (v Version) Compare(other Version) int {
	switch {
	case v.Counter < other.Counter:
		return -1
	case v.Counter > other.Counter:
		return 1
	case v.Replica < other.Replica:
		return -1
	case v.Replica > other.Replica:
		return 1
	default:
		return 0
	}
}

// Newer reports whether v supersedes other under the merge rule.
func (v Version) Newer(other Version) bool { return v.Compare(other) > 0 }

// IsZero reports whether v is the unstamped zero version.
func (v Version) IsZero() bool { return v == Version{} }

func (v Version) String() string {
	return fmt.Sprintf("%d@%016x", v.Counter, uint64(v.Replica))
}

// ReplicaClock records the highest counter observed from each replica. It is
// the opaque "since" token exchanged between replicas to drive incremental
// export; the host is responsible for persisting it between sync rounds.
type ReplicaClock map[ReplicaID]uint64

// Observe folds a version into the clock.
func (c ReplicaClock) Observe(v Version) {
	if v.IsZero() {
		return
	}
	if c[v.Replica] < v.Counter {
		c[v.Replica] = v.Counter
	}
}

// Counter returns the highest counter observed from the given replica, or
// zero if the replica has never been seen.
func (c ReplicaClock) Counter(r ReplicaID) uint64 { return c[r] }

// Covers reports whether the clock has already observed the given version.
func (c ReplicaClock) Covers(v Version) bool {
	return !v.IsZero() && c[v.Replica] >= v.Counter
}

// Clone returns an independent copy of the clock.
func (c ReplicaClock) Clone() ReplicaClock {
	out := make(ReplicaClock, len(c))
	for r, n := range c {
		out[r] = n
	}
	return out
}

// MarshalBinary encodes the clock as a count-prefixed list of
// (replica, counter) pairs sorted by replica id.
func (c ReplicaClock) MarshalBinary() ([]byte, error) {
	replicas := make([]ReplicaID, 0, len(c))
	for r := range c {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	buf := make([]byte, 4+16*len(replicas))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(replicas))) //nolint:gosec
	off := 4
	for _, r := range replicas {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], c[r])
		off += 16
	}
	return buf, nil
}

// UnmarshalBinary decodes a clock produced by MarshalBinary.
func (c *ReplicaClock) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("replica clock too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) != 4+16*n {
		return fmt.Errorf("replica clock length mismatch: %d entries in %d bytes", n, len(data))
	}
	out := make(ReplicaClock, n)
	off := 4
	for i := 0; i < n; i++ {
		r := ReplicaID(binary.LittleEndian.Uint64(data[off : off+8]))
		out[r] = binary.LittleEndian.Uint64(data[off+8 : off+16])
		off += 16
	}
	*c = out
	return nil
}
