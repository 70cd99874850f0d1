package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

func collect(t *testing.T, s *Store, entity core.ID) []model.Record {
	t.Helper()
	var out []model.Record
	for rec := range s.QueryByOwner(entity) {
		out = append(out, rec)
	}
	return out
}

func TestCreateEntity(t *testing.T) {
	s := New(1)

	id, err := s.CreateEntity()
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.KindEntity, rec.Kind)
	assert.Equal(t, core.Version{Counter: 1, Replica: 1}, rec.Version)
}

func TestSetAtom(t *testing.T) {
	s := New(1)

	owner, err := s.CreateEntity()
	require.NoError(t, err)

	id, err := s.SetAtom(owner, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, core.Derive(owner, []byte("name")), id)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("alice"), rec.Value)

	// Same label overwrites in place.
	id2, err := s.SetAtom(owner, []byte("name"), []byte("bob"))
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	rec, ok = s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("bob"), rec.Value)
	assert.Len(t, collect(t, s, owner), 1)
}

func TestSetAtomInvalidOwner(t *testing.T) {
	s := New(1)

	_, err := s.SetAtom(core.ID{Hi: 1, Lo: 1}, []byte("name"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidReference)

	// Tombstoned entity rejects new facts too.
	owner, err := s.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, s.Remove(owner))

	_, err = s.SetAtom(owner, []byte("name"), []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestSetLink(t *testing.T) {
	s := New(1)

	src, err := s.CreateEntity()
	require.NoError(t, err)
	dst, err := s.CreateEntity()
	require.NoError(t, err)

	id, err := s.SetLink(src, dst, []byte("knows"))
	require.NoError(t, err)

	rec, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.KindLink, rec.Kind)
	assert.Equal(t, src, rec.Owner)
	assert.Equal(t, dst, rec.Target)

	_, err = s.SetLink(src, core.ID{Hi: 9, Lo: 9}, []byte("knows"))
	assert.ErrorIs(t, err, ErrInvalidReference, "unknown target rejected")

	_, err = s.SetLink(core.ID{Hi: 9, Lo: 9}, dst, []byte("knows"))
	assert.ErrorIs(t, err, ErrInvalidReference, "unknown source rejected")
}

func TestRemove(t *testing.T) {
	s := New(1)

	owner, err := s.CreateEntity()
	require.NoError(t, err)
	id, err := s.SetAtom(owner, []byte("name"), []byte("alice"))
	require.NoError(t, err)

	require.NoError(t, s.Remove(id))

	_, ok := s.Get(id)
	assert.False(t, ok, "tombstoned object is invisible")
	assert.Empty(t, collect(t, s, owner))

	assert.ErrorIs(t, s.Remove(id), ErrNotFound, "double remove")
	assert.ErrorIs(t, s.Remove(core.ID{Hi: 5, Lo: 5}), ErrNotFound, "unknown id")

	// The tombstone still exists as a record for sync and compaction.
	var tomb *model.Record
	for rec := range s.Records() {
		if rec.ID == id {
			tomb = &rec
			break
		}
	}
	require.NotNil(t, tomb)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, model.KindAtom, tomb.Kind)
	assert.Equal(t, []byte("name"), tomb.Label)
	assert.Nil(t, tomb.Value)
}

func TestQueryByOwner(t *testing.T) {
	s := New(1)

	owner, err := s.CreateEntity()
	require.NoError(t, err)
	other, err := s.CreateEntity()
	require.NoError(t, err)

	_, err = s.SetAtom(owner, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	_, err = s.SetAtom(owner, []byte("age"), []byte("42"))
	require.NoError(t, err)
	_, err = s.SetLink(owner, other, []byte("knows"))
	require.NoError(t, err)
	_, err = s.SetAtom(other, []byte("name"), []byte("bob"))
	require.NoError(t, err)

	recs := collect(t, s, owner)
	assert.Len(t, recs, 3)

	// Snapshot is re-enumerable and sorted by id.
	seq := s.QueryByOwner(owner)
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, first, second)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i-1].ID.Less(recs[i].ID))
	}
}

func TestQueryLinksBySource(t *testing.T) {
	s := New(1)

	src, _ := s.CreateEntity()
	dst, _ := s.CreateEntity()
	_, err := s.SetAtom(src, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	_, err = s.SetLink(src, dst, []byte("knows"))
	require.NoError(t, err)

	var links []model.Record
	for rec := range s.QueryLinksBySource(src) {
		links = append(links, rec)
	}
	require.Len(t, links, 1)
	assert.Equal(t, model.KindLink, links[0].Kind)
	assert.Equal(t, dst, links[0].Target)
}

func TestQueryByLabel(t *testing.T) {
	s := New(1)

	a, _ := s.CreateEntity()
	b, _ := s.CreateEntity()
	_, err := s.SetAtom(a, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	_, err = s.SetAtom(b, []byte("name"), []byte("bob"))
	require.NoError(t, err)
	_, err = s.SetAtom(a, []byte("age"), []byte("42"))
	require.NoError(t, err)

	count := 0
	for rec := range s.QueryByLabel([]byte("name")) {
		assert.Equal(t, []byte("name"), rec.Label)
		count++
	}
	assert.Equal(t, 2, count)

	// Tombstoned atoms leave the index.
	require.NoError(t, s.Remove(core.Derive(a, []byte("name"))))
	count = 0
	for range s.QueryByLabel([]byte("name")) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestQueryLinksByLabelTarget(t *testing.T) {
	s := New(1)

	a, _ := s.CreateEntity()
	b, _ := s.CreateEntity()
	c, _ := s.CreateEntity()
	_, err := s.SetLink(a, c, []byte("knows"))
	require.NoError(t, err)
	_, err = s.SetLink(b, c, []byte("knows"))
	require.NoError(t, err)
	_, err = s.SetLink(a, b, []byte("likes"))
	require.NoError(t, err)

	var got []model.Record
	for rec := range s.QueryLinksByLabelTarget([]byte("knows"), c) {
		got = append(got, rec)
	}
	require.Len(t, got, 2)
	for _, rec := range got {
		assert.Equal(t, c, rec.Target)
	}

	got = nil
	for rec := range s.QueryLinksByLabelTarget([]byte("knows"), b) {
		got = append(got, rec)
	}
	assert.Empty(t, got)
}

func TestCollectGarbage(t *testing.T) {
	s := New(1)

	owner, _ := s.CreateEntity()
	other, _ := s.CreateEntity()
	_, err := s.SetAtom(owner, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	_, err = s.SetLink(owner, other, []byte("knows"))
	require.NoError(t, err)
	keepID, err := s.SetAtom(other, []byte("name"), []byte("bob"))
	require.NoError(t, err)

	// Removing the entity leaves its facts orphaned but present.
	require.NoError(t, s.Remove(owner))
	assert.Len(t, collect(t, s, owner), 2, "orphans are not implicitly deleted")

	n, err := s.CollectGarbage()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, collect(t, s, owner))

	_, ok := s.Get(keepID)
	assert.True(t, ok, "facts of live entities stay")
}

func TestLen(t *testing.T) {
	s := New(1)

	owner, _ := s.CreateEntity()
	id, err := s.SetAtom(owner, []byte("name"), []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Remove(id))
	assert.Equal(t, 1, s.Len())
}
