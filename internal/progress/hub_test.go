package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitForSubscribers(t *testing.T, hub *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(sessionID) == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("subscriber count = %d, want %d", hub.SubscriberCount(sessionID), want)
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := hub.Subscribe("session-1", nil)
	waitForSubscribers(t, hub, "session-1", 1)

	delivered := hub.Broadcast("session-1", []byte(`{"progress":42}`))

	assert.Equal(t, 1, delivered)
	select {
	case msg := <-client.Send():
		assert.JSONEq(t, `{"progress":42}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestHub_MultipleSubscribersPerSession(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := hub.Subscribe("session-1", nil)
	second := hub.Subscribe("session-1", nil)
	waitForSubscribers(t, hub, "session-1", 2)

	delivered := hub.Broadcast("session-1", []byte("update"))

	assert.Equal(t, 2, delivered)
	for _, client := range []*Client{first, second} {
		select {
		case msg := <-client.Send():
			assert.Equal(t, "update", string(msg))
		case <-time.After(time.Second):
			t.Fatal("message was not delivered to all subscribers")
		}
	}
}

func TestHub_BroadcastIsScopedToSession(t *testing.T) {
	hub := NewHub(zap.NewNop())

	other := hub.Subscribe("session-2", nil)
	waitForSubscribers(t, hub, "session-2", 1)

	delivered := hub.Broadcast("session-1", []byte("update"))

	assert.Zero(t, delivered)
	select {
	case <-other.Send():
		t.Fatal("message leaked to another session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := hub.Subscribe("session-1", nil)
	waitForSubscribers(t, hub, "session-1", 1)

	hub.Unsubscribe(client)
	waitForSubscribers(t, hub, "session-1", 0)

	assert.Zero(t, hub.Broadcast("session-1", []byte("update")))

	// Канал закрыт хабом
	_, open := <-client.Send()
	assert.False(t, open)
}

func TestHub_DropsMessagesWhenQueueFull(t *testing.T) {
	hub := NewHub(zap.NewNop())

	client := hub.Subscribe("session-1", nil)
	waitForSubscribers(t, hub, "session-1", 1)

	// Забиваем очередь клиента, который ничего не читает
	for i := 0; i < sendBufferSize; i++ {
		require.Equal(t, 1, hub.Broadcast("session-1", []byte("update")))
	}

	// Переполнение не блокирует и не доставляет
	assert.Zero(t, hub.Broadcast("session-1", []byte("dropped")))
	_ = client
}
