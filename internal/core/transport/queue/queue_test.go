package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/pkg/types"
)

func TestQueue_InboundFIFO(t *testing.T) {
	q := New(4)
	require.True(t, q.PushInbound("a", []byte{1}))
	require.True(t, q.PushInbound("b", []byte{2}))

	in, ok := q.Receive()
	require.True(t, ok)
	assert.Equal(t, "a", in.Addr)
	assert.Equal(t, []byte{1}, in.Data)

	in, ok = q.Receive()
	require.True(t, ok)
	assert.Equal(t, "b", in.Addr)

	_, ok = q.Receive()
	assert.False(t, ok)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := New(2)
	assert.True(t, q.PushInbound("a", nil))
	assert.True(t, q.PushInbound("a", nil))
	assert.False(t, q.PushInbound("a", nil))
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueue_StatesNeverDropped(t *testing.T) {
	q := New(1)
	for i := 0; i < 10; i++ {
		q.PushState("peer", types.ConnStateConnected)
	}
	n := 0
	for {
		if _, ok := q.NextState(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 10, n)
}
