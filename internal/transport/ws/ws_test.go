package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"narrator-server-go/internal/domain/eventbus"
)

type busSource struct {
	*eventbus.Bus
}

func (b busSource) ID() string { return b.SessionID() }

func newTestServer(t *testing.T, sources map[string]*eventbus.Bus) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	router := NewRouter(hub, func(id string) (EventSource, error) {
		bus, ok := sources[id]
		if !ok {
			return nil, errors.New("not found")
		}
		return busSource{bus}, nil
	}, nil, RouterOptions{})
	srv := NewServer(ServerConfig{}, router, hub, nil)

	engine := gin.New()
	srv.Mount(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialReady(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// pong 到达说明订阅已建立
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil || string(msg) != "pong" {
		t.Fatalf("expected pong, got %q %v", msg, err)
	}
	return conn
}

func TestUnknownSessionRejected(t *testing.T) {
	_, url := newTestServer(t, map[string]*eventbus.Bus{})
	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws/sessions/missing", nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestEventsAreForwarded(t *testing.T) {
	bus := eventbus.New("s1", nil)
	defer bus.Close()
	srv, url := newTestServer(t, map[string]*eventbus.Bus{"s1": bus})
	conn := dialReady(t, url+"/ws/sessions/s1")

	if clients, readings := srv.Counts(); clients != 1 || readings != 1 {
		t.Fatalf("expected 1 client / 1 reading, got %d / %d", clients, readings)
	}

	bus.Publish(eventbus.EventPlaybackState, eventbus.StateEventData{From: "ready", To: "playing"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Type      string                  `json:"type"`
		SessionID string                  `json:"session_id"`
		Data      eventbus.StateEventData `json:"data"`
	}
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("decode %s: %v", frame, err)
	}
	if got.Type != eventbus.EventPlaybackState || got.SessionID != "s1" || got.Data.To != "playing" {
		t.Fatalf("unexpected frame %s", frame)
	}
}

func TestSessionClosedEndsStream(t *testing.T) {
	bus := eventbus.New("s2", nil)
	defer bus.Close()
	srv, url := newTestServer(t, map[string]*eventbus.Bus{"s2": bus})
	conn := dialReady(t, url+"/ws/sessions/s2")

	bus.Publish(eventbus.EventSessionClosed, nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(frame), eventbus.EventSessionClosed) {
		t.Fatalf("expected session closed frame, got %s %v", frame, err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after session closed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if clients, _ := srv.Counts(); clients == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("hub still tracks the closed stream")
}

func TestStopClosesStreams(t *testing.T) {
	bus := eventbus.New("s3", nil)
	defer bus.Close()
	srv, url := newTestServer(t, map[string]*eventbus.Bus{"s3": bus})
	conn := dialReady(t, url+"/ws/sessions/s3")

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read error after server stop")
	}
}
