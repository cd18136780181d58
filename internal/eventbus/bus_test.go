package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerStopped struct {
	Name string
}

func TestBusPublishSubscribe(t *testing.T) {
	b := New[workerStopped]()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(workerStopped{Name: "w1"})

	select {
	case v := <-sub:
		assert.Equal(t, "w1", v.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBusUnreadSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New[int]()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 0; i < 1000; i++ {
		b.Publish(i)
	}
	require.NotNil(t, sub)
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := New[string]()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.Publish("hello")

	for _, s := range []Subscription[string]{s1, s2} {
		select {
		case v := <-s:
			assert.Equal(t, "hello", v)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}
