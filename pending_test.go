package asyncfio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_wraps(t *testing.T) {
	s := sequencer{size: 3}
	var got []uint32
	for i := 0; i < 7; i++ {
		got = append(got, s.nextID())
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestSequencer_fullIDSpace(t *testing.T) {
	s := sequencer{next: idSpace - 2, size: idSpace}
	assert.Equal(t, uint32(idSpace-2), s.nextID())
	assert.Equal(t, uint32(idSpace-1), s.nextID())
	assert.Equal(t, uint32(0), s.nextID())
}

func TestPendingTable_skipsLiveIDs(t *testing.T) {
	table := newPendingTable(4)
	futures := make([]*Future, 4)
	for i := range futures {
		futures[i] = newFuture()
		id, err := table.register(OpRead, futures[i], nil)
		require.NoError(t, err)
		require.Equal(t, uint32(i), id)
	}

	_, err := table.register(OpRead, newFuture(), nil)
	assert.ErrorIs(t, err, ErrTooManyInFlight)

	require.True(t, table.resolve(2, 10, nil))
	v, err := futures[2].Result()
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	// 0 and 1 are live, so the wrapped sequencer lands on 2
	id, err := table.register(OpWrite, newFuture(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, 4, table.len())
}

func TestPendingTable_resolveUnknown(t *testing.T) {
	table := newPendingTable(0)
	assert.Equal(t, uint32(idSpace), table.seq.size)
	assert.False(t, table.resolve(5, 0, nil))

	f := newFuture()
	id, err := table.register(OpClose, f, nil)
	require.NoError(t, err)
	assert.True(t, table.resolve(id, 0, nil))
	assert.False(t, table.resolve(id, 0, nil), "an id resolves once")
	assert.Zero(t, table.len())
}

func TestPendingTable_failAll(t *testing.T) {
	table := newPendingTable(8)
	buf := make([]byte, 4)
	a, b := newFuture(), newFuture()
	_, err := table.register(OpRead, a, buf)
	require.NoError(t, err)
	_, err = table.register(OpNop, b, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	ops := table.failAll(boom)
	assert.Len(t, ops, 2)
	assert.Zero(t, table.len())

	for _, f := range []*Future{a, b} {
		_, err := f.Result()
		assert.ErrorIs(t, err, boom)
	}
	assert.Nil(t, table.failAll(boom))
}
