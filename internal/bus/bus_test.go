package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendFansOutToAllSubscribers(t *testing.T) {
	b := New[int]()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Send(42)

	assert.Equal(t, 42, <-sub1)
	assert.Equal(t, 42, <-sub2)
}

func TestLateSubscriberMissesEarlierSends(t *testing.T) {
	b := New[int]()
	sub1 := b.Subscribe()
	b.Send(1)
	sub2 := b.Subscribe()
	b.Send(2)

	assert.Equal(t, 1, <-sub1)
	assert.Equal(t, 2, <-sub1)
	assert.Equal(t, 2, <-sub2)
}

func TestCloseEndsEveryStream(t *testing.T) {
	b := New[int]()
	sub := b.Subscribe()
	b.Close()

	v, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := New[int]()
	b.Close()
	sub := b.Subscribe()

	_, ok := <-sub
	assert.False(t, ok)
}

func TestSendOnClosedBusPanics(t *testing.T) {
	b := New[int]()
	b.Close()
	require.Panics(t, func() { b.Send(1) })
}

func TestSendOnFullChannelPanics(t *testing.T) {
	b := New[int]()
	b.Subscribe() // capacity Capacity, never drained

	require.Panics(t, func() {
		for i := 0; i < Capacity+1; i++ {
			b.Send(i)
		}
	})
}
