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
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/internal/platform/events"
)

const testUser = "11111111-1111-1111-1111-111111111111"

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient(testUser)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(events.UserTopic(testUser)) != 1 {
		t.Fatalf("expected client on user topic")
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// second unregister must not panic on the closed channel
	hub.Unregister(client)
}

func TestHub_PublishRoutesByUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	mine := NewClient(testUser)
	other := NewClient("22222222-2222-2222-2222-222222222222")
	hub.Register(mine)
	hub.Register(other)

	err := hub.Publish(context.Background(), events.Event{
		Type:       "notification.created",
		Topic:      events.UserTopic(testUser),
		ResourceID: "n-1",
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case msg := <-mine.Send:
		var got events.Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ResourceID != "n-1" {
			t.Errorf("expected n-1, got %s", got.ResourceID)
		}
	default:
		t.Fatal("expected event for subscribed user")
	}

	select {
	case <-other.Send:
		t.Fatal("other user must not receive the event")
	default:
	}
}

func TestHub_PublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := NewClient(testUser)
	hub.Register(client)

	for i := 0; i < sendBuffer+5; i++ {
		if err := hub.Publish(context.Background(), events.Event{Topic: events.UserTopic(testUser)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(client.Send) != sendBuffer {
		t.Errorf("expected full buffer of %d, got %d", sendBuffer, len(client.Send))
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(testUser)
			hub.Register(c)
			_ = hub.Publish(context.Background(), events.Event{Topic: events.UserTopic(testUser)})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RequiresUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, nil)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())
	if err := h.HandleConnect(c); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	e.Use(auth.DevAuthMiddleware(testUser, nil))
	NewHandler(hub, nil).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(events.UserTopic(testUser)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), events.Event{Type: "hello", Topic: events.UserTopic(testUser)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"hello"`) {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	e.Use(auth.DevAuthMiddleware(testUser, nil))
	NewHandler(hub, []string{"https://app.example.com"}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}
