package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"discover-engine/internal/observability"
	"discover-engine/internal/wire"
)

// ErrClientClosed is returned by calls on a closed WebSocket client.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// RequestTimeout bounds the wait for a subscribe/unsubscribe response.
	RequestTimeout time.Duration
	// UserID is sent in the handshake header.
	UserID string
	// Logger for connection events. Defaults to stderr.
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// WSClient implements EngagementSubscriber using gorilla/websocket.
//
// After a reconnect every live subscription is re-established and its
// callback is invoked once, so subscribers re-pull whatever they may have
// missed while disconnected.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps server subscription ID to subscription
	subs   map[int64]*wsSubscription
	subsMu sync.RWMutex

	// pending maps request ID to channel waiting for the response
	pending   map[uint64]chan *wire.Response
	pendingMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

var _ EngagementSubscriber = (*WSClient)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[ws] ", log.LstdFlags)
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[int64]*wsSubscription),
		pending:  make(map[uint64]chan *wire.Response),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	if c.config.UserID != "" {
		header.Set(wire.HeaderUser, c.config.UserID)
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// wsSubscription is a live engagement subscription handle.
type wsSubscription struct {
	client  *WSClient
	topic   string
	userID  string
	onEvent func()

	// serverID changes on resubscribe; guarded by client.subsMu
	serverID int64
	once     sync.Once
}

// Unsubscribe stops event delivery and tells the server.
// Calling it more than once is a no-op.
func (s *wsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		c := s.client
		c.subsMu.Lock()
		id := s.serverID
		delete(c.subs, id)
		c.subsMu.Unlock()

		if c.closed.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		defer cancel()
		var result wire.AckResult
		if uerr := c.request(ctx, wire.MethodEngagementUnsubscribe, wire.UnsubscribeParams{Subscription: id}, &result); uerr != nil {
			err = fmt.Errorf("unsubscribe %d: %w", id, uerr)
		}
	})
	return err
}

// SubscribeEngagementEvents subscribes to engagement changes for userID.
func (c *WSClient) SubscribeEngagementEvents(ctx context.Context, topic, userID string, onEvent func()) (Subscription, error) {
	subID, err := c.subscribe(ctx, topic, userID)
	if err != nil {
		return nil, err
	}

	sub := &wsSubscription{
		client:   c,
		topic:    topic,
		userID:   userID,
		onEvent:  onEvent,
		serverID: subID,
	}
	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()

	return sub, nil
}

// subscribe sends engagementSubscribe and returns the server subscription ID.
func (c *WSClient) subscribe(ctx context.Context, topic, userID string) (int64, error) {
	var subID int64
	params := wire.SubscribeParams{Topic: topic, UserID: userID}
	if err := c.request(ctx, wire.MethodEngagementSubscribe, params, &subID); err != nil {
		return 0, fmt.Errorf("subscribe %s/%s: %w", topic, userID, err)
	}
	return subID, nil
}

// request writes a JSON-RPC request and waits for its response.
func (c *WSClient) request(ctx context.Context, method string, params, result interface{}) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req, err := wire.NewRequest(reqID, method, params)
	if err != nil {
		return err
	}

	respCh := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()

	// Send request
	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.dropPending(reqID)
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err = c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return fmt.Errorf("write %s: %w", method, err)
	}

	var resp *wire.Response
	select {
	case resp = <-respCh:
	case <-time.After(c.config.RequestTimeout):
		c.dropPending(reqID)
		return fmt.Errorf("%s timeout after %s", method, c.config.RequestTimeout)
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return ctx.Err()
	}

	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *WSClient) dropPending(reqID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for id := range c.subs {
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id := range c.pending {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			// A failed reconnect leaves no connection; schedule another
			c.scheduleReconnect(&reconnectDelay, errors.New("not connected"))
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			c.scheduleReconnect(&reconnectDelay, err)

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// scheduleReconnect starts a reconnect unless one is running, and doubles
// the delay for the next attempt.
func (c *WSClient) scheduleReconnect(delay *time.Duration, cause error) {
	if c.reconnecting.Swap(true) {
		return
	}
	c.logger.Printf("connection lost: %v; reconnecting in %s", cause, *delay)
	c.wg.Add(1)
	go c.reconnect(*delay)

	// Exponential backoff
	*delay = *delay * 2
	if *delay > c.config.MaxReconnectDelay {
		*delay = c.config.MaxReconnectDelay
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClient) reconnect(delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	// Wait before reconnecting
	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	// Close existing connection
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.logger.Printf("reconnect failed: %v", err)
		return
	}
	observability.RecordWSReconnect()

	// Resubscribe in the background: responses arrive through readLoop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
}

// resubscribeAll re-establishes all live subscriptions after reconnect and
// fires each callback once.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	subs := make([]*wsSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subsMu.RUnlock()

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		newID, err := c.subscribe(ctx, sub.topic, sub.userID)
		cancel()

		if err != nil {
			// Keep old mapping; the next reconnect retries
			c.logger.Printf("resubscribe %s/%s: %v", sub.topic, sub.userID, err)
			continue
		}

		c.subsMu.Lock()
		if current, ok := c.subs[sub.serverID]; !ok || current != sub {
			// Unsubscribed while we were resubscribing
			c.subsMu.Unlock()
			continue
		}
		delete(c.subs, sub.serverID)
		sub.serverID = newID
		c.subs[newID] = sub
		c.subsMu.Unlock()

		// Synthetic event: events may have been missed while disconnected
		sub.onEvent()
	}
}

// wsMessage is either a response to one of our requests or a notification.
type wsMessage struct {
	JSONRPC string                   `json:"jsonrpc"`
	ID      uint64                   `json:"id"`
	Method  string                   `json:"method"`
	Result  json.RawMessage          `json:"result,omitempty"`
	Error   *wire.Error              `json:"error,omitempty"`
	Params  *wire.NotificationParams `json:"params,omitempty"`
}

// handleMessage processes incoming WebSocket message.
func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("malformed message: %v", err)
		return
	}

	if msg.Method == wire.MethodEngagementNotification {
		c.handleNotification(msg.Params)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		if msg.Error != nil {
			c.logger.Printf("error response: code=%d msg=%s", msg.Error.Code, msg.Error.Message)
		}
		return
	}

	select {
	case ch <- &wire.Response{JSONRPC: msg.JSONRPC, ID: msg.ID, Result: msg.Result, Error: msg.Error}:
	default:
	}
}

// handleNotification dispatches a notification to its subscriber.
func (c *WSClient) handleNotification(params *wire.NotificationParams) {
	if params == nil {
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()

	if ok {
		sub.onEvent()
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// Errors surface on the next read, which triggers reconnect
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
