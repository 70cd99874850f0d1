package engine

import (
	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

// localIndex assigns dense 32-bit LocalIDs to 128-bit object identifiers so
// bitmap indexes stay compact. Assignments are stable for the lifetime of
// the store; they are never persisted.
type localIndex struct {
	ids   []core.ID // LocalID -> ID
	index map[core.ID]core.LocalID
}

func newLocalIndex() *localIndex {
	return &localIndex{index: make(map[core.ID]core.LocalID)}
}

// localize returns the LocalID for id, assigning the next dense slot on
// first sight.
func (x *localIndex) localize(id core.ID) core.LocalID {
	if local, ok := x.index[id]; ok {
		return local
	}
	local := core.LocalID(len(x.ids)) //nolint:gosec // bounded by MaxLocalID
	x.ids = append(x.ids, id)
	x.index[id] = local
	return local
}

// lookup returns the ID for a previously assigned LocalID.
func (x *localIndex) lookup(local core.LocalID) core.ID {
	return x.ids[local]
}

// labelIndex is the inverted index over labels and link targets. Bitmap
// entries hold live (non-tombstoned) atoms and links only.
type labelIndex struct {
	labels  map[string]*LocalBitmap
	targets map[core.ID]*LocalBitmap
}

func newLabelIndex() *labelIndex {
	return &labelIndex{
		labels:  make(map[string]*LocalBitmap),
		targets: make(map[core.ID]*LocalBitmap),
	}
}

func (x *labelIndex) add(rec *model.Record, local core.LocalID) {
	key := string(rec.Label)
	bm, ok := x.labels[key]
	if !ok {
		bm = NewLocalBitmap()
		x.labels[key] = bm
	}
	bm.Add(local)

	if rec.Kind == model.KindLink {
		tm, ok := x.targets[rec.Target]
		if !ok {
			tm = NewLocalBitmap()
			x.targets[rec.Target] = tm
		}
		tm.Add(local)
	}
}

func (x *labelIndex) remove(rec *model.Record, local core.LocalID) {
	if bm, ok := x.labels[string(rec.Label)]; ok {
		bm.Remove(local)
		if bm.IsEmpty() {
			delete(x.labels, string(rec.Label))
		}
	}
	if rec.Kind == model.KindLink {
		if tm, ok := x.targets[rec.Target]; ok {
			tm.Remove(local)
			if tm.IsEmpty() {
				delete(x.targets, rec.Target)
			}
		}
	}
}

// byLabel returns a snapshot of the locals carrying the given label.
func (x *labelIndex) byLabel(label []byte) *LocalBitmap {
	bm, ok := x.labels[string(label)]
	if !ok {
		return NewLocalBitmap()
	}
	return bm.Clone()
}

// byLabelTarget returns a snapshot of the links carrying the given label
// that point at target.
func (x *labelIndex) byLabelTarget(label []byte, target core.ID) *LocalBitmap {
	bm, ok := x.labels[string(label)]
	if !ok {
		return NewLocalBitmap()
	}
	tm, ok := x.targets[target]
	if !ok {
		return NewLocalBitmap()
	}
	out := bm.Clone()
	out.And(tm)
	return out
}
