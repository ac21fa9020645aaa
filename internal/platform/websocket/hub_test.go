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

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "client-1",
		UserID: "user-123",
		Topics: []string{UserTopic("user-123")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("user:user-123") != 1 {
		t.Fatalf("expected 1 client on user:user-123, got %d", hub.TopicCount("user:user-123"))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "client-2",
		UserID: "user-456",
		Topics: []string{UserTopic("user-456")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("user:user-456") != 0 {
		t.Fatalf("expected 0 clients on user:user-456, got %d", hub.TopicCount("user:user-456"))
	}
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub()

	subscriber := &Client{
		ID:     "sub-1",
		UserID: "alice",
		Topics: []string{UserTopic("alice")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	nonSubscriber := &Client{
		ID:     "non-sub-1",
		UserID: "bob",
		Topics: []string{UserTopic("bob")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(subscriber)
	hub.Register(nonSubscriber)

	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("alice"),
		ResourceType: "notification",
		ResourceID:   "123",
		Timestamp:    time.Now(),
	}

	hub.Broadcast(UserTopic("alice"), event)

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != "notification.created" {
			t.Fatalf("expected event type notification.created, got %s", received.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-nonSubscriber.Send:
		t.Fatal("non-subscriber should not have received event")
	default:
		// expected
	}
}

func TestHub_BroadcastAll(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "all-1",
		UserID: "u1",
		Topics: []string{UserTopic("u1")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "all-2",
		UserID: "u2",
		Topics: []string{UserTopic("u2")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)

	event := Event{
		Type:         "system.alert",
		Topic:        "system",
		ResourceType: "system",
		Timestamp:    time.Now(),
	}

	hub.BroadcastAll(event)

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if received.Type != "system.alert" {
				t.Fatalf("expected system.alert, got %s", received.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", c.ID)
		}
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0, got %d", hub.ClientCount())
	}

	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = &Client{
			ID:     "count-" + string(rune('a'+i)),
			Topics: []string{"broadcasts"},
			Send:   make(chan []byte, 256),
			hub:    hub,
		}
		hub.Register(clients[i])
	}

	if hub.ClientCount() != 5 {
		t.Fatalf("expected 5, got %d", hub.ClientCount())
	}

	hub.Unregister(clients[0])
	hub.Unregister(clients[1])

	if hub.ClientCount() != 3 {
		t.Fatalf("expected 3, got %d", hub.ClientCount())
	}
}

func TestHub_TopicCount(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "tc-1",
		UserID: "shared",
		Topics: []string{UserTopic("shared")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "tc-2",
		UserID: "shared",
		Topics: []string{UserTopic("shared")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c3 := &Client{
		ID:     "tc-3",
		UserID: "solo",
		Topics: []string{UserTopic("solo")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if hub.TopicCount("user:shared") != 2 {
		t.Fatalf("expected 2 on user:shared, got %d", hub.TopicCount("user:shared"))
	}
	if hub.TopicCount("user:solo") != 1 {
		t.Fatalf("expected 1 on user:solo, got %d", hub.TopicCount("user:solo"))
	}
	if hub.TopicCount("user:nobody") != 0 {
		t.Fatalf("expected 0 on user:nobody, got %d", hub.TopicCount("user:nobody"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "close-1",
		Topics: []string{"broadcasts"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(client)
	hub.Unregister(client)

	// Reading from a closed channel returns zero value immediately
	_, ok := <-client.Send
	if ok {
		t.Fatal("expected Send channel to be closed after unregister")
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub()

	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("nobody-home"),
		ResourceType: "notification",
		ResourceID:   "999",
		Timestamp:    time.Now(),
	}

	// Should not panic
	hub.Broadcast(UserTopic("nobody-home"), event)
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)

	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = &Client{
			ID:     "concurrent-" + string(rune(i)),
			Topics: []string{"broadcasts"},
			Send:   make(chan []byte, 256),
			hub:    hub,
		}
	}

	// Register all concurrently
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Register(clients[idx])
		}(i)
	}

	// Unregister all concurrently
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			hub.Unregister(clients[idx])
		}(i)
	}

	wg.Wait()

	// Final count should be consistent (all registered then unregistered, or some mix)
	count := hub.ClientCount()
	if count < 0 {
		t.Fatalf("client count should not be negative, got %d", count)
	}
}

// ---------------------------------------------------------------------------
// Topic filtering tests
// ---------------------------------------------------------------------------

func TestFilterTopics_KeepsOwnUserTopic(t *testing.T) {
	got := filterTopics("alice", []string{UserTopic("alice"), "broadcasts"})
	if len(got) != 2 {
		t.Fatalf("expected 2 topics, got %d: %v", len(got), got)
	}
}

func TestFilterTopics_DropsOtherUserTopics(t *testing.T) {
	got := filterTopics("alice", []string{UserTopic("bob"), UserTopic("alice"), "broadcasts"})
	if len(got) != 2 {
		t.Fatalf("expected 2 topics, got %d: %v", len(got), got)
	}
	for _, topic := range got {
		if topic == UserTopic("bob") {
			t.Fatal("bob's topic should have been filtered out")
		}
	}
}

func TestHub_ProcessMessage_SubscribeFiltersForeignUserTopics(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "filter-1",
		UserID: "alice",
		Topics: []string{UserTopic("alice")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{
		Action: "subscribe",
		Topics: []string{UserTopic("bob"), "broadcasts"},
	})

	if hub.TopicCount(UserTopic("bob")) != 0 {
		t.Fatalf("expected 0 on bob's topic, got %d", hub.TopicCount(UserTopic("bob")))
	}
	if hub.TopicCount("broadcasts") != 1 {
		t.Fatalf("expected 1 on broadcasts, got %d", hub.TopicCount("broadcasts"))
	}
}

// ---------------------------------------------------------------------------
// Event tests
// ---------------------------------------------------------------------------

func TestEvent_JSONSerialization(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("abc-123"),
		ResourceType: "notification",
		ResourceID:   "abc-123",
		Timestamp:    ts,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	if !strings.Contains(string(data), `"resource_type"`) {
		t.Fatalf("expected snake_case resource_type key, got %s", data)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}

	if decoded.Type != event.Type {
		t.Fatalf("Type mismatch: %s vs %s", decoded.Type, event.Type)
	}
	if decoded.Topic != event.Topic {
		t.Fatalf("Topic mismatch: %s vs %s", decoded.Topic, event.Topic)
	}
	if decoded.ResourceType != event.ResourceType {
		t.Fatalf("ResourceType mismatch: %s vs %s", decoded.ResourceType, event.ResourceType)
	}
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Fatalf("Timestamp mismatch: %v vs %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestEvent_WithData(t *testing.T) {
	payload := json.RawMessage(`{"subject":"Appointment Reminder","status":"pending"}`)
	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("xyz"),
		ResourceType: "notification",
		ResourceID:   "xyz",
		Timestamp:    time.Now(),
		Data:         payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event with data: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal event with data: %v", err)
	}

	if decoded.Data == nil {
		t.Fatal("expected Data to be non-nil")
	}

	var payloadMap map[string]interface{}
	if err := json.Unmarshal(decoded.Data, &payloadMap); err != nil {
		t.Fatalf("failed to unmarshal Data payload: %v", err)
	}
	if payloadMap["subject"] != "Appointment Reminder" {
		t.Fatalf("expected subject Appointment Reminder, got %v", payloadMap["subject"])
	}
}

// ---------------------------------------------------------------------------
// Publisher tests
// ---------------------------------------------------------------------------

func TestHub_PublishEvent(t *testing.T) {
	hub := NewHub()

	client := &Client{
		ID:     "pub-1",
		UserID: "carol",
		Topics: []string{UserTopic("carol")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	var publisher EventPublisher = hub

	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("carol"),
		ResourceType: "notification",
		ResourceID:   "100",
		Timestamp:    time.Now(),
	}

	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.ResourceID != "100" {
			t.Fatalf("expected ResourceID 100, got %s", received.ResourceID)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

func TestHub_PublishBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub()

	c1 := &Client{
		ID:     "multi-pub-1",
		UserID: "dana",
		Topics: []string{UserTopic("dana")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c2 := &Client{
		ID:     "multi-pub-2",
		UserID: "dana",
		Topics: []string{UserTopic("dana")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	c3 := &Client{
		ID:     "multi-pub-3",
		UserID: "erin",
		Topics: []string{UserTopic("erin")},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	event := Event{
		Type:         "notification.created",
		Topic:        UserTopic("dana"),
		ResourceType: "notification",
		ResourceID:   "200",
		Timestamp:    time.Now(),
	}

	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Both of dana's connections should get the event
	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client %s: failed to unmarshal: %v", c.ID, err)
			}
			if received.ResourceID != "200" {
				t.Fatalf("client %s: expected ResourceID 200, got %s", c.ID, received.ResourceID)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive event", c.ID)
		}
	}

	// erin should not receive it
	select {
	case <-c3.Send:
		t.Fatal("c3 should not have received dana's event")
	default:
		// expected
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	routes := e.Routes()
	found := false
	for _, r := range routes {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected GET /ws route to be registered")
	}
}

func TestWebSocketHandler_InvalidMessage(t *testing.T) {
	invalidJSON := `{not valid json`

	var msg ClientMessage
	err := json.Unmarshal([]byte(invalidJSON), &msg)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)

	// gorilla/websocket upgrader will reject non-WS requests
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHub_SubscribeAddsTopics(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "dynamic-sub-1",
		UserID: "frank",
		Topics: []string{},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Subscribe(client, []string{UserTopic("frank"), "broadcasts"})

	if hub.TopicCount(UserTopic("frank")) != 1 {
		t.Fatalf("expected 1 on frank's topic, got %d", hub.TopicCount(UserTopic("frank")))
	}
	if hub.TopicCount("broadcasts") != 1 {
		t.Fatalf("expected 1 on broadcasts, got %d", hub.TopicCount("broadcasts"))
	}
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics on client, got %d", len(client.Topics))
	}
}

func TestHub_UnsubscribeRemovesTopics(t *testing.T) {
	hub := NewHub()
	client := &Client{
		ID:     "dynamic-unsub-1",
		UserID: "grace",
		Topics: []string{UserTopic("grace"), "broadcasts", "maintenance"},
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
	hub.Register(client)

	hub.Unsubscribe(client, []string{"broadcasts", "maintenance"})

	if hub.TopicCount("broadcasts") != 0 {
		t.Fatalf("expected 0 on broadcasts, got %d", hub.TopicCount("broadcasts"))
	}
	if hub.TopicCount(UserTopic("grace")) != 1 {
		t.Fatalf("expected 1 on grace's topic, got %d", hub.TopicCount(UserTopic("grace")))
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic remaining, got %d", len(client.Topics))
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub()
	handler := NewWebSocketHandler(hub)

	e := echo.New()
	g := e.Group("")
	handler.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	// Convert http URL to ws URL
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	dialer := gorillawebsocket.Dialer{}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// Client should have been registered in the hub
	// Give the goroutine a moment to register
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() < 1 {
		t.Fatal("expected at least 1 client registered after connect")
	}

	// Send a subscribe message for a shared topic
	subMsg := ClientMessage{
		Action: "subscribe",
		Topics: []string{"broadcasts"},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}

	// Give the server time to process the subscribe
	time.Sleep(50 * time.Millisecond)

	if hub.TopicCount("broadcasts") != 1 {
		t.Fatalf("expected 1 subscriber on broadcasts, got %d", hub.TopicCount("broadcasts"))
	}

	// Now broadcast an event and verify we receive it
	event := Event{
		Type:         "system.alert",
		Topic:        "broadcasts",
		ResourceType: "system",
		ResourceID:   "test-ws",
		Timestamp:    time.Now(),
	}
	hub.Broadcast("broadcasts", event)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "system.alert" {
		t.Fatalf("expected system.alert, got %s", received.Type)
	}
	if received.ResourceID != "test-ws" {
		t.Fatalf("expected ResourceID test-ws, got %s", received.ResourceID)
	}
}
