package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func recordTopic() string {
	return "record/" + uuid.New().String()
}

func TestValidTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{recordTopic(), true},
		{"patient/" + uuid.New().String(), true},
		{"record/not-a-uuid", false},
		{"Patient/" + uuid.New().String(), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTopic(tt.topic); got != tt.want {
			t.Errorf("ValidTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	topic := recordTopic()
	client := NewClient(topic)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 client on %s, got %d/%d", topic, hub.ClientCount(), hub.TopicCount(topic))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(topic) != 0 {
		t.Fatalf("expected empty hub, got %d/%d", hub.ClientCount(), hub.TopicCount(topic))
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel closed")
	}
	hub.Unregister(client)
}

func TestHub_PublishToTopic(t *testing.T) {
	hub := newTestHub()
	topic := recordTopic()
	subscriber := NewClient(topic)
	other := NewClient(recordTopic())
	hub.Register(subscriber)
	hub.Register(other)

	err := hub.Publish(context.Background(), Event{Type: "record.finalized", Topic: topic, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case data := <-subscriber.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != "record.finalized" {
			t.Errorf("expected record.finalized, got %s", ev.Type)
		}
	default:
		t.Fatal("subscriber should have received the event")
	}
	select {
	case <-other.Send:
		t.Fatal("non-subscriber should not receive the event")
	default:
	}
}

func TestHub_PublishSkipsFullBuffer(t *testing.T) {
	hub := newTestHub()
	topic := recordTopic()
	client := &Client{ID: "slow", Topics: []string{topic}, Send: make(chan []byte, 1)}
	hub.Register(client)

	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), Event{Type: "record.updated", Topic: topic}); err != nil {
			t.Fatalf("publish should not fail for slow clients: %v", err)
		}
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHub_SubscribeIgnoresInvalidTopics(t *testing.T) {
	hub := newTestHub()
	client := NewClient()
	hub.Register(client)

	valid := recordTopic()
	hub.Subscribe(client, []string{valid, "Encounter/1"})
	if hub.TopicCount(valid) != 1 {
		t.Errorf("expected 1 on %s, got %d", valid, hub.TopicCount(valid))
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic on client, got %v", client.Topics)
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	client := NewClient()
	hub.Register(client)
	a, b := recordTopic(), recordTopic()

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{a, b}})
	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{a}})

	if hub.TopicCount(a) != 0 || hub.TopicCount(b) != 1 {
		t.Errorf("expected a=0 b=1, got a=%d b=%d", hub.TopicCount(a), hub.TopicCount(b))
	}
	if len(client.Topics) != 1 || client.Topics[0] != b {
		t.Errorf("unexpected client topics: %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	topic := recordTopic()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(topic)
			hub.Register(c)
			hub.Publish(context.Background(), Event{Type: "record.updated", Topic: topic})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(newTestHub(), []string{"*"})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	handler := NewHandler(newTestHub(), []string{"https://clinic.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !handler.checkOrigin(req) {
		t.Error("requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://clinic.example")
	if !handler.checkOrigin(req) {
		t.Error("allowed origin should pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if handler.checkOrigin(req) {
		t.Error("unknown origin should be rejected")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	handler := NewHandler(hub, []string{"*"})

	e := echo.New()
	handler.RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	topic := recordTopic()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topic=" + topic

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(topic) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(topic) != 1 {
		t.Fatalf("expected 1 subscriber on %s, got %d", topic, hub.TopicCount(topic))
	}

	hub.Publish(context.Background(), Event{Type: "record.in_review", Topic: topic, RecordID: "r1", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "record.in_review" || received.RecordID != "r1" {
		t.Fatalf("unexpected event: %+v", received)
	}
}
