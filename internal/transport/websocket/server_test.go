package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, hub *Hub, topic string) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, topic)
	}))

	wsURL := "ws" + server.URL[4:]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("failed to connect: %v", err)
	}
	return server, conn
}

func waitForSubscribers(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %s never reached %d subscribers (have %d)", topic, want, hub.Subscribers(topic))
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server, conn := newTestServer(t, hub, "order#5001")
	defer server.Close()

	waitForSubscribers(t, hub, "order#5001", 1)

	conn.Close()
	waitForSubscribers(t, hub, "order#5001", 0)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server, conn := newTestServer(t, hub, "staff#42")
	defer server.Close()
	defer conn.Close()

	waitForSubscribers(t, hub, "staff#42", 1)

	hub.Broadcast("staff#42", &Message{Type: "report_ready", Data: map[string]string{"url": "/files/r.xlsx"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if got.Type != "report_ready" {
		t.Fatalf("expected report_ready, got %q", got.Type)
	}
	if got.Channel != "staff#42" {
		t.Fatalf("expected channel staff#42, got %q", got.Channel)
	}

	// the topic survives a plain broadcast
	if hub.Subscribers("staff#42") != 1 {
		t.Fatal("subscriber dropped after broadcast")
	}
}

func TestHub_BroadcastDoesNotCrossTopics(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server, conn := newTestServer(t, hub, "order#1")
	defer server.Close()
	defer conn.Close()

	waitForSubscribers(t, hub, "order#1", 1)

	hub.Broadcast("order#2", &Message{Type: "payment_outcome", Data: "other order"})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("received a message for a different topic")
	}
}

func TestHub_BroadcastAndClose(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server, conn := newTestServer(t, hub, "order#5001")
	defer server.Close()
	defer conn.Close()

	waitForSubscribers(t, hub, "order#5001", 1)

	hub.BroadcastAndClose("order#5001", &Message{Type: "payment_outcome", Data: map[string]string{"status": "completed"}})

	// terminal message arrives first
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read terminal message: %v", err)
	}
	if got.Type != "payment_outcome" {
		t.Fatalf("expected payment_outcome, got %q", got.Type)
	}

	// then the server closes the connection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after the terminal message")
	}

	waitForSubscribers(t, hub, "order#5001", 0)

	// and nothing further reaches anyone on that topic
	hub.Broadcast("order#5001", &Message{Type: "payment_outcome", Data: "late"})
	time.Sleep(50 * time.Millisecond)
	if hub.Subscribers("order#5001") != 0 {
		t.Fatal("topic resurrected after teardown")
	}
}

func TestHub_MultipleSubscribersSameTopic(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r, "order#7")
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[4:]
	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer conn1.Close()
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close()

	waitForSubscribers(t, hub, "order#7", 2)

	hub.BroadcastAndClose("order#7", &Message{Type: "payment_outcome", Data: "done"})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Message
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("subscriber %d missed the terminal message: %v", i+1, err)
		}
	}
}
