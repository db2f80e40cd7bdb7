package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"discover-engine/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// engagementServer answers subscribe/unsubscribe requests and lets tests
// push notifications or drop connections.
type engagementServer struct {
	t      *testing.T
	nextID atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	conns    int
	requests []wire.Request
	users    []string
}

func newEngagementServer(t *testing.T) (*engagementServer, *httptest.Server) {
	s := &engagementServer{t: t}
	s.nextID.Store(100)
	return s, httptest.NewServer(http.HandlerFunc(s.serve))
}

func (s *engagementServer) serve(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer c.Close()

	s.mu.Lock()
	s.conn = c
	s.conns++
	s.users = append(s.users, r.Header.Get(wire.HeaderUser))
	s.mu.Unlock()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wire.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			s.t.Errorf("unmarshal request: %v", err)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		var resp *wire.Response
		switch req.Method {
		case wire.MethodEngagementSubscribe:
			resp, _ = wire.NewResult(req.ID, s.nextID.Add(1))
		case wire.MethodEngagementUnsubscribe:
			resp, _ = wire.NewResult(req.ID, wire.AckResult{OK: true})
		default:
			resp = wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeMethodNotFound, "unknown method %s", req.Method))
		}

		s.mu.Lock()
		err = c.WriteJSON(resp)
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *engagementServer) notify(subID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(wire.Notification{
		JSONRPC: wire.Version,
		Method:  wire.MethodEngagementNotification,
		Params: &wire.NotificationParams{
			Subscription: subID,
			Result:       wire.EngagementEvent{Topic: "likes", UserID: "u1", Kind: "swipe"},
		},
	})
}

func (s *engagementServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func (s *engagementServer) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Method
	}
	return out
}

func testWSConfig() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.UserID = "u1"
	return &cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestWSClient_Connect(t *testing.T) {
	srv, server := newEngagementServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := NewWSClient(context.Background(), wsURL, testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}

	waitFor(t, time.Second, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.users) == 1
	}, "handshake")
	if srv.users[0] != "u1" {
		t.Errorf("expected user header u1, got %q", srv.users[0])
	}
}

func TestWSClient_SubscribeAndNotify(t *testing.T) {
	srv, server := newEngagementServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewWSClient(context.Background(), wsURL, testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	var events atomic.Int32
	sub, err := client.SubscribeEngagementEvents(context.Background(), "likes", "u1", func() {
		events.Add(1)
	})
	if err != nil {
		t.Fatalf("SubscribeEngagementEvents: %v", err)
	}

	if err := srv.notify(101); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, time.Second, func() bool { return events.Load() == 1 }, "notification")

	// Notifications for unknown subscriptions are ignored
	if err := srv.notify(999); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	// Second call is a no-op
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}

	if err := srv.notify(101); err != nil {
		t.Fatalf("notify: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if events.Load() != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", events.Load())
	}

	methods := srv.methods()
	if len(methods) != 2 || methods[0] != wire.MethodEngagementSubscribe || methods[1] != wire.MethodEngagementUnsubscribe {
		t.Errorf("unexpected requests: %v", methods)
	}
}

func TestWSClient_ReconnectResubscribes(t *testing.T) {
	srv, server := newEngagementServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewWSClient(context.Background(), wsURL, testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	var events atomic.Int32
	_, err = client.SubscribeEngagementEvents(context.Background(), "likes", "u1", func() {
		events.Add(1)
	})
	if err != nil {
		t.Fatalf("SubscribeEngagementEvents: %v", err)
	}

	srv.drop()

	// The resubscribe fires one synthetic event
	waitFor(t, 2*time.Second, func() bool { return events.Load() == 1 }, "synthetic event after reconnect")

	srv.mu.Lock()
	conns := srv.conns
	srv.mu.Unlock()
	if conns != 2 {
		t.Errorf("expected 2 connections, got %d", conns)
	}

	// The new subscription ID is routed
	if err := srv.notify(102); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, time.Second, func() bool { return events.Load() == 2 }, "notification on new subscription")
}

func TestWSClient_SubscribeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var req wire.Request
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			c.WriteJSON(wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeInvalidParams, "missing userId")))
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewWSClient(context.Background(), wsURL, testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	_, err = client.SubscribeEngagementEvents(context.Background(), "likes", "", func() {})
	if err == nil {
		t.Fatal("expected subscribe error")
	}
	if !wire.IsCode(err, wire.CodeInvalidParams) {
		t.Errorf("expected invalid params, got %v", err)
	}
}

func TestWSClient_Close(t *testing.T) {
	_, server := newEngagementServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewWSClient(context.Background(), wsURL, testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Double close is safe
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err = client.SubscribeEngagementEvents(context.Background(), "likes", "u1", func() {})
	if err == nil {
		t.Error("expected error after close")
	}
}
