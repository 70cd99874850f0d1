package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{"higher counter wins", Version{Counter: 2, Replica: 1}, Version{Counter: 1, Replica: 9}, 1},
		{"lower counter loses", Version{Counter: 1, Replica: 9}, Version{Counter: 2, Replica: 1}, -1},
		{"counter tie broken by replica", Version{Counter: 3, Replica: 7}, Version{Counter: 3, Replica: 5}, 1},
		{"equal", Version{Counter: 3, Replica: 5}, Version{Counter: 3, Replica: 5}, 0},
		{"zero sorts first", Version{}, Version{Counter: 1, Replica: 1}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
			assert.Equal(t, tt.want > 0, tt.a.Newer(tt.b))
		})
	}
}

func TestReplicaClockObserve(t *testing.T) {
	c := make(ReplicaClock)

	c.Observe(Version{Counter: 5, Replica: 1})
	c.Observe(Version{Counter: 3, Replica: 1}) // lower, ignored
	c.Observe(Version{Counter: 7, Replica: 2})
	c.Observe(Version{}) // zero, ignored

	assert.Equal(t, uint64(5), c.Counter(1))
	assert.Equal(t, uint64(7), c.Counter(2))
	assert.Equal(t, uint64(0), c.Counter(3))
}

func TestReplicaClockCovers(t *testing.T) {
	c := ReplicaClock{1: 5}

	assert.True(t, c.Covers(Version{Counter: 5, Replica: 1}))
	assert.True(t, c.Covers(Version{Counter: 4, Replica: 1}))
	assert.False(t, c.Covers(Version{Counter: 6, Replica: 1}))
	assert.False(t, c.Covers(Version{Counter: 1, Replica: 2}))
	assert.False(t, c.Covers(Version{}), "zero version is never covered")
}

func TestReplicaClockClone(t *testing.T) {
	c := ReplicaClock{1: 5, 2: 7}

	clone := c.Clone()
	clone[1] = 99

	assert.Equal(t, uint64(5), c.Counter(1))
	assert.Equal(t, uint64(99), clone.Counter(1))
}

func TestReplicaClockBinaryRoundtrip(t *testing.T) {
	c := ReplicaClock{3: 10, 1: 5, 2: 7}

	data, err := c.MarshalBinary()
	require.NoError(t, err)

	var out ReplicaClock
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, c, out)
}

func TestReplicaClockUnmarshalInvalid(t *testing.T) {
	var c ReplicaClock

	assert.Error(t, c.UnmarshalBinary([]byte{1, 2}))
	assert.Error(t, c.UnmarshalBinary([]byte{2, 0, 0, 0, 1, 2, 3})) // count mismatch
}
