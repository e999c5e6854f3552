package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/accrue/internal/domain"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewExecutionBroadcaster(4)
	first := b.Subscribe()
	second := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	b.Publish(domain.ExecutionRecord{ID: "e1"})

	assert.Equal(t, "e1", (<-first).ID)
	assert.Equal(t, "e1", (<-second).ID)
}

func TestBroadcaster_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesOnce(t *testing.T) {
	b := NewBroadcaster[int](0)
	ch := b.Subscribe()

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	b.Publish(1)
}
