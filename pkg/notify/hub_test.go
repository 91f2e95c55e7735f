package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torusai/agentdata/pkg/models"
)

func event(agentID, userID string) models.SyncEvent {
	return models.SyncEvent{
		RecordID:    models.NewRecordID(),
		AgentID:     agentID,
		UserID:      userID,
		ContentHash: "bafyhash",
		SyncedAt:    time.Now().UTC(),
	}
}

func receive(t *testing.T, sub *Subscription) models.SyncEvent {
	t.Helper()
	select {
	case e := <-sub.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.SyncEvent{}
	}
}

func TestHub_filters(t *testing.T) {
	h := NewHub()
	all := h.Subscribe(Filter{})
	byUser := h.Subscribe(Filter{UserID: "user-1"})
	byAgent := h.Subscribe(Filter{AgentID: "agent-2", UserID: "user-1"})
	require.Equal(t, 3, h.SubscriberCount())

	e1 := event("agent-1", "user-1")
	e2 := event("agent-2", "user-1")
	e3 := event("agent-2", "user-2")
	h.Publish(e1)
	h.Publish(e2)
	h.Publish(e3)

	assert.Equal(t, e1.RecordID, receive(t, all).RecordID)
	assert.Equal(t, e2.RecordID, receive(t, all).RecordID)
	assert.Equal(t, e3.RecordID, receive(t, all).RecordID)

	assert.Equal(t, e1.RecordID, receive(t, byUser).RecordID)
	assert.Equal(t, e2.RecordID, receive(t, byUser).RecordID)
	assert.Len(t, byUser.Events(), 0)

	assert.Equal(t, e2.RecordID, receive(t, byAgent).RecordID)
	assert.Len(t, byAgent.Events(), 0)

	assert.EqualValues(t, 3, h.Published())
}

func TestHub_publish_never_blocks(t *testing.T) {
	var drops int
	h := NewHub(WithBufferSize(2), WithDropHook(func() { drops++ }))
	sub := h.Subscribe(Filter{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(event("a", "u"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, sub.Events(), 2)
	assert.EqualValues(t, 3, sub.Dropped())
	assert.Equal(t, 3, drops)
}

func TestHub_unsubscribe_closes_channel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(Filter{})
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.SubscriberCount())

	h.Publish(event("a", "u"))
}

func TestHub_close(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(Filter{})
	b := h.Subscribe(Filter{UserID: "u"})
	h.Close()

	_, ok := <-a.Events()
	assert.False(t, ok)
	_, ok = <-b.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHub_concurrent_publishers(t *testing.T) {
	h := NewHub(WithBufferSize(1000))
	sub := h.Subscribe(Filter{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(event("a", "u"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.Events(), 500)
	assert.Zero(t, sub.Dropped())
}
