package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/model"
)

func atomRecord(owner core.ID, label string, counter uint64) model.Record {
	return model.Record{
		ID:      core.Derive(owner, []byte(label)),
		Kind:    model.KindAtom,
		Owner:   owner,
		Label:   []byte(label),
		Value:   []byte("v"),
		Version: core.Version{Counter: counter, Replica: 1},
	}
}

func waitEvents(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestSubscribeDelivers(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}
	rec := atomRecord(owner, "name", 1)

	ch := make(chan Event, 8)
	sub := r.Subscribe(rec.ID, func(e Event) { ch <- e })
	defer sub.Cancel()

	r.Publish(rec)

	events := waitEvents(t, ch, 1)
	assert.True(t, rec.Equal(events[0].Record))
}

func TestOwnerSubscriptionSeesChildren(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}

	ch := make(chan Event, 8)
	sub := r.Subscribe(owner, func(e Event) { ch <- e })
	defer sub.Cancel()

	// A write to the entity itself and a write to an owned atom both land.
	entityRec := model.Record{
		ID:      owner,
		Kind:    model.KindEntity,
		Version: core.Version{Counter: 1, Replica: 1},
	}
	atom := atomRecord(owner, "name", 2)

	r.Publish(entityRec)
	r.Publish(atom)

	events := waitEvents(t, ch, 2)
	assert.True(t, entityRec.Equal(events[0].Record))
	assert.True(t, atom.Equal(events[1].Record))
}

func TestUnrelatedIDNotDelivered(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}
	other := core.ID{Hi: 2, Lo: 2}

	ch := make(chan Event, 8)
	sub := r.Subscribe(other, func(e Event) { ch <- e })
	defer sub.Cancel()

	r.Publish(atomRecord(owner, "name", 1))

	// Publish a marker the subscriber does see, then verify the unrelated
	// event never arrived ahead of it.
	marker := atomRecord(other, "marker", 2)
	r.Publish(model.Record{ID: other, Kind: model.KindEntity, Version: marker.Version})

	events := waitEvents(t, ch, 1)
	assert.Equal(t, other, events[0].Record.ID)
	assert.Empty(t, ch)
}

func TestPerIDOrder(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}
	rec := atomRecord(owner, "name", 1)

	ch := make(chan Event, 64)
	sub := r.Subscribe(rec.ID, func(e Event) { ch <- e })
	defer sub.Cancel()

	const n = 20
	for i := 1; i <= n; i++ {
		next := rec.Clone()
		next.Version.Counter = uint64(i)
		r.Publish(next)
	}

	events := waitEvents(t, ch, n)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Record.Version.Counter, "events arrived out of order")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}
	rec := atomRecord(owner, "name", 1)

	ch := make(chan Event, 8)
	sub := r.Subscribe(rec.ID, func(e Event) { ch <- e })

	r.Publish(rec)
	waitEvents(t, ch, 1)

	sub.Cancel()
	sub.Cancel() // idempotent

	r.Publish(rec)

	// Use a second live subscription as the fence: once it has seen the
	// event, the canceled one would have too.
	fence := make(chan Event, 8)
	sub2 := r.Subscribe(rec.ID, func(e Event) { fence <- e })
	defer sub2.Cancel()
	r.Publish(rec)
	waitEvents(t, fence, 1)

	assert.Empty(t, ch)
}

func TestCloseDrainsQueue(t *testing.T) {
	r := NewRegistry()

	owner := core.ID{Hi: 1, Lo: 1}
	rec := atomRecord(owner, "name", 1)

	ch := make(chan Event, 64)
	r.Subscribe(rec.ID, func(e Event) { ch <- e })

	const n = 10
	for i := 0; i < n; i++ {
		r.Publish(rec)
	}

	r.Close()
	r.Close() // idempotent

	assert.Len(t, ch, n, "queued events are delivered before shutdown")

	// Publishing after close is a silent no-op.
	r.Publish(rec)
	assert.Len(t, ch, n)
}

func TestMultipleSubscribersSameID(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	owner := core.ID{Hi: 1, Lo: 1}
	rec := atomRecord(owner, "name", 1)

	ch1 := make(chan Event, 8)
	ch2 := make(chan Event, 8)
	sub1 := r.Subscribe(rec.ID, func(e Event) { ch1 <- e })
	sub2 := r.Subscribe(rec.ID, func(e Event) { ch2 <- e })
	defer sub1.Cancel()
	defer sub2.Cancel()

	r.Publish(rec)

	require.Len(t, waitEvents(t, ch1, 1), 1)
	require.Len(t, waitEvents(t, ch2, 1), 1)
}
