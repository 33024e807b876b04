package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	w, unsubW := b.Subscribe(4, "worker.")
	defer unsubW()

	b.Publish(Event{Type: "worker.spawned", Data: 1})
	b.Publish(Event{Type: "steal.result"})

	require.Len(t, a, 2)
	require.Len(t, w, 1)
	got := <-w
	require.Equal(t, "worker.spawned", got.Type)
	require.False(t, got.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "queue.observed"})
	}
	require.EqualValues(t, 9, b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "task.completed"})
}
