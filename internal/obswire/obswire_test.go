package obswire

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func TestHubBroadcastsEventsToConnectedClients(t *testing.T) {
	sink := eventsink.New(0)
	hub := NewHub(sink, "obswire-test")
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client before
	// publishing: the websocket accept loop is async from the HTTP
	// handshake, and the client's registration must land before Publish
	// for this client to see the event at all.
	time.Sleep(20 * time.Millisecond)

	sink.Publish(convo.Event{Type: convo.EventLifecycle, Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var got convo.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Type != convo.EventLifecycle || got.Lifecycle.Kind != convo.LifecycleStarted {
		t.Fatalf("unexpected event received: %+v", got)
	}
}
