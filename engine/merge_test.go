package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
	"github.com/hupe1980/factgo/testutil"
)

// states returns the full record map of a store, tombstones included.
func states(s *Store) map[core.ID]model.Record {
	out := make(map[core.ID]model.Record)
	for rec := range s.Records() {
		out[rec.ID] = rec
	}
	return out
}

func assertConverged(t *testing.T, a, b *Store) {
	t.Helper()
	sa, sb := states(a), states(b)
	require.Len(t, sb, len(sa))
	for id, rec := range sa {
		other, ok := sb[id]
		require.True(t, ok, "object %s missing", id)
		assert.True(t, rec.Equal(other), "object %s diverged: %+v vs %+v", id, rec, other)
	}
}

// syncBoth exchanges full deltas in both directions.
func syncBoth(t *testing.T, a, b *Store) {
	t.Helper()
	require.NoError(t, b.ImportRecords(a.ExportSince(b.Clock())))
	require.NoError(t, a.ImportRecords(b.ExportSince(a.Clock())))
}

func TestMergeLastWriterWins(t *testing.T) {
	alice := New(1)
	bob := New(2)

	// Shared entity created on alice and synced to bob.
	entity, err := alice.CreateEntity()
	require.NoError(t, err)
	syncBoth(t, alice, bob)

	// Both write the same atom while disconnected. Bob's write carries the
	// higher counter, so it must win on both sides.
	_, err = alice.SetAtom(entity, []byte("title"), []byte("from alice"))
	require.NoError(t, err)
	_, err = bob.SetAtom(entity, []byte("title"), []byte("from bob v1"))
	require.NoError(t, err)
	_, err = bob.SetAtom(entity, []byte("title"), []byte("from bob v2"))
	require.NoError(t, err)

	syncBoth(t, alice, bob)
	assertConverged(t, alice, bob)

	rec, ok := alice.Get(core.Derive(entity, []byte("title")))
	require.True(t, ok)
	assert.Equal(t, []byte("from bob v2"), rec.Value)
}

func TestMergeTieBrokenByReplica(t *testing.T) {
	low := New(1)
	high := New(2)

	entity, err := low.CreateEntity()
	require.NoError(t, err)
	syncBoth(t, low, high)

	// One concurrent write each, identical counters.
	_, err = low.SetAtom(entity, []byte("color"), []byte("red"))
	require.NoError(t, err)
	_, err = high.SetAtom(entity, []byte("color"), []byte("blue"))
	require.NoError(t, err)

	syncBoth(t, low, high)
	assertConverged(t, low, high)

	rec, ok := low.Get(core.Derive(entity, []byte("color")))
	require.True(t, ok)
	assert.Equal(t, []byte("blue"), rec.Value, "higher replica id wins the counter tie")
}

func TestMergeIdempotent(t *testing.T) {
	a := New(1)
	entity, err := a.CreateEntity()
	require.NoError(t, err)
	_, err = a.SetAtom(entity, []byte("name"), []byte("alice"))
	require.NoError(t, err)

	b := New(2)
	recs := a.ExportSince(nil)
	require.NoError(t, b.ImportRecords(recs))
	before := states(b)

	// Re-importing the same delta changes nothing.
	require.NoError(t, b.ImportRecords(recs))
	assert.Equal(t, before, states(b))
}

func TestMergeOrderIndependent(t *testing.T) {
	// Build a history on one replica, then import permutations of it into
	// fresh stores. Every order must produce the same final state.
	src := New(1)
	entity, err := src.CreateEntity()
	require.NoError(t, err)
	other, err := src.CreateEntity()
	require.NoError(t, err)
	for _, label := range testutil.Labels("field", 5) {
		_, err = src.SetAtom(entity, label, []byte("v"))
		require.NoError(t, err)
	}
	_, err = src.SetLink(entity, other, []byte("knows"))
	require.NoError(t, err)
	require.NoError(t, src.Remove(core.Derive(entity, []byte("field-001"))))

	recs := src.ExportSince(nil)
	rng := testutil.NewRNG(4711)

	want := states(src)
	for i := 0; i < 10; i++ {
		shuffled := make([]model.Record, len(recs))
		copy(shuffled, recs)
		rng.Shuffle(shuffled)

		dst := New(core.ReplicaID(100 + i))
		require.NoError(t, dst.ImportRecords(shuffled))
		assert.Equal(t, want, states(dst), "permutation %d diverged", i)
	}
}

func TestMergeTombstoneBeatsStaleWrite(t *testing.T) {
	alice := New(1)
	bob := New(2)

	entity, err := alice.CreateEntity()
	require.NoError(t, err)
	id, err := alice.SetAtom(entity, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	syncBoth(t, alice, bob)

	// Bob removes the atom; the tombstone carries a higher version than the
	// original write it saw.
	require.NoError(t, bob.Remove(id))
	syncBoth(t, alice, bob)

	_, ok := alice.Get(id)
	assert.False(t, ok, "tombstone propagates")

	// A later write revives the object at a fresh version on both sides.
	_, err = alice.SetAtom(entity, []byte("name"), []byte("alice again"))
	require.NoError(t, err)
	syncBoth(t, alice, bob)
	assertConverged(t, alice, bob)

	rec, ok := bob.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("alice again"), rec.Value)
}

func TestMergeStaleDeltaLoses(t *testing.T) {
	a := New(1)
	entity, err := a.CreateEntity()
	require.NoError(t, err)
	id, err := a.SetAtom(entity, []byte("name"), []byte("old"))
	require.NoError(t, err)

	stale := a.ExportSince(nil)

	_, err = a.SetAtom(entity, []byte("name"), []byte("new"))
	require.NoError(t, err)

	// Applying the old export over the new state is a no-op.
	require.NoError(t, a.ImportRecords(stale))
	rec, ok := a.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), rec.Value)
}

func TestLocalWriteSupersedesImported(t *testing.T) {
	a := New(1)
	b := New(2)

	entity, err := a.CreateEntity()
	require.NoError(t, err)
	_, err = a.SetAtom(entity, []byte("name"), []byte("from a"))
	require.NoError(t, err)
	syncBoth(t, a, b)

	// B's clock advanced past A's counters during import, so B's next local
	// write must win over everything it has observed.
	id, err := b.SetAtom(entity, []byte("name"), []byte("from b"))
	require.NoError(t, err)
	syncBoth(t, a, b)

	rec, ok := a.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("from b"), rec.Value)
}

func TestExportSinceIncremental(t *testing.T) {
	a := New(1)
	b := New(2)

	entity, err := a.CreateEntity()
	require.NoError(t, err)
	_, err = a.SetAtom(entity, []byte("one"), []byte("1"))
	require.NoError(t, err)

	// First round: everything.
	first := a.ExportSince(b.Clock())
	assert.Len(t, first, 2)
	require.NoError(t, b.ImportRecords(first))

	// Nothing new: empty delta.
	assert.Empty(t, a.ExportSince(b.Clock()))

	// One new write: delta of one.
	_, err = a.SetAtom(entity, []byte("two"), []byte("2"))
	require.NoError(t, err)
	second := a.ExportSince(b.Clock())
	require.Len(t, second, 1)
	assert.Equal(t, []byte("two"), second[0].Label)
}

func TestExportSinceDeterministicOrder(t *testing.T) {
	a := New(1)
	entity, err := a.CreateEntity()
	require.NoError(t, err)
	for _, label := range testutil.Labels("field", 8) {
		_, err = a.SetAtom(entity, label, []byte("v"))
		require.NoError(t, err)
	}

	first := a.ExportSince(nil)
	second := a.ExportSince(nil)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
	}
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1].Version, first[i].Version
		assert.True(t, prev.Replica < cur.Replica ||
			(prev.Replica == cur.Replica && prev.Counter <= cur.Counter))
	}
}
