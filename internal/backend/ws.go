package backend

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"discover-engine/internal/observability"
	"discover-engine/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// WSHandler serves engagement subscriptions over WebSocket. Each connection
// may hold several subscriptions; each receives engagementNotification
// messages for its user until unsubscribed or disconnected.
type WSHandler struct {
	service  *Service
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWSHandler creates a WSHandler. Origin checks are left to the CORS layer.
func NewWSHandler(service *Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: service.logger,
	}
}

// ServeHTTP upgrades the connection and serves it until it closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	viewer := r.Header.Get(wire.HeaderUser)
	if viewer == "" {
		viewer = r.URL.Query().Get("user")
	}
	if viewer == "" {
		http.Error(w, "missing "+wire.HeaderUser+" header", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade: %v", err)
		return
	}

	c := &wsConn{
		id:      uuid.NewString(),
		viewer:  viewer,
		conn:    conn,
		service: h.service,
		logger:  h.logger,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		subs:    make(map[int64]func()),
	}
	h.logger.Printf("ws %s connected (user %s)", c.id, viewer)

	go c.writeLoop()
	c.readLoop()
	c.close()
	h.logger.Printf("ws %s disconnected", c.id)
}

// wsConn is one client connection.
type wsConn struct {
	id      string
	viewer  string
	conn    *websocket.Conn
	service *Service
	logger  *log.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	nextSub int64
	subs    map[int64]func()
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("ws %s read: %v", c.id, err)
			}
			return
		}

		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(wire.NewErrorResponse(0, wire.NewError(wire.CodeParseError, "parse request: %v", err)))
			continue
		}

		start := time.Now()
		resp := c.handle(&req)
		status := "ok"
		if resp.Error != nil {
			status = "error"
		}
		observability.RecordBackendRequest(req.Method, status, time.Since(start).Seconds())
		c.reply(resp)
	}
}

func (c *wsConn) handle(req *wire.Request) *wire.Response {
	switch req.Method {
	case wire.MethodEngagementSubscribe:
		var p wire.SubscribeParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return wire.NewErrorResponse(req.ID, toRPCError(err))
		}
		if p.Topic == "" {
			return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeInvalidParams, "topic is required"))
		}
		userID := p.UserID
		if userID == "" {
			userID = c.viewer
		}
		if userID != c.viewer {
			return wire.NewErrorResponse(req.ID, toRPCError(ErrForbidden))
		}
		return c.result(req.ID, c.subscribe(p.Topic, userID))

	case wire.MethodEngagementUnsubscribe:
		var p wire.UnsubscribeParams
		if err := wire.DecodeParams(req, &p); err != nil {
			return wire.NewErrorResponse(req.ID, toRPCError(err))
		}
		if !c.unsubscribe(p.Subscription) {
			return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeNotFound, "subscription %d not found", p.Subscription))
		}
		return c.result(req.ID, wire.AckResult{OK: true})

	default:
		return wire.NewErrorResponse(req.ID, wire.NewError(wire.CodeMethodNotFound, "method %q not found", req.Method))
	}
}

func (c *wsConn) result(id uint64, v any) *wire.Response {
	resp, err := wire.NewResult(id, v)
	if err != nil {
		return wire.NewErrorResponse(id, wire.NewError(wire.CodeInternal, "%v", err))
	}
	return resp
}

func (c *wsConn) subscribe(topic, userID string) int64 {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.mu.Unlock()

	cancel := c.service.Broker().Subscribe(userID, func(ev wire.EngagementEvent) {
		ev.Topic = topic
		c.notify(id, ev)
	})

	c.mu.Lock()
	c.subs[id] = cancel
	c.mu.Unlock()

	observability.AddActiveSubscriptions(1)
	return id
}

func (c *wsConn) unsubscribe(id int64) bool {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	observability.AddActiveSubscriptions(-1)
	return true
}

// notify queues a notification. A full queue drops it: clients treat
// events as hints and re-pull the count.
func (c *wsConn) notify(sub int64, ev wire.EngagementEvent) {
	data, err := json.Marshal(wire.Notification{
		JSONRPC: wire.Version,
		Method:  wire.MethodEngagementNotification,
		Params:  &wire.NotificationParams{Subscription: sub, Result: ev},
	})
	if err != nil {
		c.logger.Printf("ws %s encode notification: %v", c.id, err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Printf("ws %s send queue full, dropping notification", c.id)
	}
}

func (c *wsConn) reply(resp *wire.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Printf("ws %s encode response: %v", c.id, err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Printf("ws %s write: %v", c.id, err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// close cancels every subscription and releases the connection.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[int64]func())
		c.mu.Unlock()

		for _, cancel := range subs {
			cancel()
		}
		observability.AddActiveSubscriptions(-len(subs))
		c.conn.Close()
	})
}
