package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster[int]()

	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelA()
	defer cancelC()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 2, <-a)
	assert.Equal(t, 1, <-c)
	assert.Equal(t, 2, <-c)
	assert.Equal(t, 2, b.Len())
}

func TestBroadcasterDropsOldest(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster[int]()

	ch, cancel := b.Subscribe(2)
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)
	assert.Empty(t, ch)
}

func TestBroadcasterCancelAndClose(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster[string]()

	ch, cancel := b.Subscribe(0)
	assert.Equal(t, DefaultBufferSize, cap(ch))
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Len())

	other, _ := b.Subscribe(1)
	b.Close()
	b.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, lateCancel := b.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)
	lateCancel()
	b.Publish("ignored")
}
