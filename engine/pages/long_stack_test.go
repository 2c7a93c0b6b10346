package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/hare-storage/engine/basic"
)

func TestLongStackOfferPop(t *testing.T) {
	stack := NewLongStack(NewPage(MinPageShift))
	stack.Init()
	assert.Equal(t, 0, stack.Count())

	assert.True(t, stack.Offer(7))
	assert.True(t, stack.Contains(7))
	v, err := stack.Pop()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.False(t, stack.Contains(7))
}

func TestLongStackLifoOrder(t *testing.T) {
	stack := NewLongStack(NewPage(MinPageShift))
	stack.Init()
	for i := int64(1); i <= 5; i++ {
		assert.True(t, stack.Offer(i))
	}
	for i := int64(5); i >= 1; i-- {
		v, err := stack.Pop()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	_, err := stack.Pop()
	assert.ErrorIs(t, err, basic.ErrStackEmpty)
}

func TestLongStackCapacity(t *testing.T) {
	stack := NewLongStack(NewPage(MinPageShift))
	stack.Init()
	capacity := stack.Capacity()
	assert.Equal(t, (1024-4)/8, capacity)

	for i := 0; i < capacity; i++ {
		require.True(t, stack.Offer(int64(i)))
	}
	assert.False(t, stack.Offer(9999))
	assert.Equal(t, capacity, stack.Count())
}
