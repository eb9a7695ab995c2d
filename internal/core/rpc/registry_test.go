package rpc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/pkg/types"
)

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"Ping", "Move", "Fire", "Ping", "Move"} {
		first, err := r.Register(name)
		require.NoError(t, err)
		second, err := r.Register(name)
		require.NoError(t, err)
		assert.Equal(t, first, second, name)
	}
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_DenseIDsFromOne(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 5; i++ {
		id, err := r.Register(fmt.Sprintf("proc-%d", i))
		require.NoError(t, err)
		assert.Equal(t, types.ProcID(i), id)
	}
}

func TestRegistry_Bijection(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register("Vote")
	require.NoError(t, err)

	name, ok := r.Name(id)
	require.True(t, ok)
	assert.Equal(t, "Vote", name)

	got, ok := r.ID("Vote")
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = r.Name(0)
	assert.False(t, ok)
	_, ok = r.Name(id + 1)
	assert.False(t, ok)
}

func TestRegistry_Sealed(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register("Ping")
	require.NoError(t, err)
	r.Seal()
	assert.True(t, r.Sealed())

	// 已有名称仍返回原 ID
	got, err := r.Register("Ping")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = r.Register("Late")
	assert.ErrorIs(t, err, ErrRegistrySealed)
	_, err = r.Handle("Late", func(*CallContext, []byte) {})
	assert.ErrorIs(t, err, ErrRegistrySealed)
}

func TestRegistry_HandleBindsHandler(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("")
	assert.ErrorIs(t, err, ErrEmptyName)

	calls := 0
	id, err := r.Handle("Ping", func(*CallContext, []byte) { calls++ })
	require.NoError(t, err)

	name, h, ok := r.Lookup(id)
	require.True(t, ok)
	require.NotNil(t, h)
	assert.Equal(t, "Ping", name)
	h(&CallContext{}, nil)
	assert.Equal(t, 1, calls)

	// 仅注册未绑定
	id2, err := r.Register("Bare")
	require.NoError(t, err)
	_, h, ok = r.Lookup(id2)
	assert.True(t, ok)
	assert.Nil(t, h)
}
