package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/presence-go/internal/domain/presence"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/security"
)

// ClientMessage is the envelope a websocket client sends to the
// fleet. Only the fields relevant to Type are populated.
type ClientMessage struct {
	Type        string              `json:"type"`
	CustomerID  string              `json:"customerId,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	TabID       string              `json:"tabId,omitempty"`
	Timestamp   int64               `json:"timestamp,omitempty"`
	SessionMode presence.SessionMode `json:"session_mode,omitempty"`
}

// ServerMessage is the envelope the fleet sends to a client.
type ServerMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// MetricsPayload is the data carried by a metrics:update message.
type MetricsPayload struct {
	CustomerID string  `json:"customerId"`
	Timestamp  int64   `json:"timestamp"`
	Count      int     `json:"count"`
	EMA        float64 `json:"ema"`
}

// MetricsSource is the narrow surface the fleet needs to relay
// metrics published by other instances: a customer's sockets may all
// be connected to an instance that never itself computes that
// customer's EMA tick (no local JOIN traffic for it), so the fleet
// subscribes to the shared pub/sub channel instead of relying solely
// on the local EMA engine's broadcast.
type MetricsSource interface {
	SubscribeMetrics(ctx context.Context, customerID string) *redis.PubSub
}

// AuthHandler is the narrow surface the fleet needs from the
// presence service: authenticating a socket, refreshing TTL on its
// behalf, and coordinating with the disconnect resolver. Defining it
// here (rather than in the service package) keeps the fleet free of
// a dependency on the service's concrete type.
type AuthHandler interface {
	Authenticate(ctx context.Context, customerID, sessionID, tabID string) (presence.Device, error)
	RefreshTTL(ctx context.Context, customerID, sessionID, tabID string, mode presence.SessionMode) error
	CancelDisconnect(customerID, sessionID string)
	ScheduleDisconnect(customerID, sessionID string, device presence.Device)
}

// Client is a single websocket connection's fleet-side state.
type Client struct {
	conn         *websocket.Conn
	connectionID string
	send         chan ServerMessage

	mu         sync.Mutex
	customerID string
	sessionID  string
	tabID      string
	device     presence.Device
	missed     int
	closed     bool
}

// Fleet fans out metrics updates to every client subscribed to a
// customer, and owns the server-driven ping/pong liveness check for
// every connection. The fan-out set is in-process and best-effort by
// design: a restart drops it harmlessly because Redis remains the
// sole source of truth.
type Fleet struct {
	mu         sync.RWMutex
	byCustomer map[string]map[*Client]struct{}
	relayStop  map[string]context.CancelFunc

	auth    AuthHandler
	metrics MetricsSource
	logger  *slog.Logger
}

// NewFleet creates a fleet bound to the given authentication/TTL
// handler and, if non-nil, a metrics source used to relay pub/sub
// updates for customers this instance doesn't compute EMA for
// itself.
func NewFleet(auth AuthHandler, metrics MetricsSource, logger *slog.Logger) *Fleet {
	return &Fleet{
		byCustomer: make(map[string]map[*Client]struct{}),
		relayStop:  make(map[string]context.CancelFunc),
		auth:       auth,
		metrics:    metrics,
		logger:     logger,
	}
}

// Accept takes ownership of an upgraded connection and runs its read
// and write pumps until the connection closes.
func (f *Fleet) Accept(conn *websocket.Conn) {
	client := &Client{
		conn:         conn,
		connectionID: security.GenerateConnectionID(),
		send:         make(chan ServerMessage, 32),
	}

	if f.logger != nil {
		f.logger.Debug("websocket connection accepted", "connectionId", client.connectionID)
	}

	go f.writePump(client)
	f.readPump(client)
}

func (f *Fleet) readPump(c *Client) {
	defer f.onClose(c)

	c.conn.SetReadLimit(config.WSMaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.missed = 0
		c.mu.Unlock()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.send(c, ServerMessage{Type: "error", Message: "invalid message", Code: "bad_json"})
			continue
		}
		f.handleMessage(c, msg)
	}
}

func (f *Fleet) handleMessage(c *Client, msg ClientMessage) {
	ctx := context.Background()

	switch msg.Type {
	case "auth":
		device, err := f.auth.Authenticate(ctx, msg.CustomerID, msg.SessionID, msg.TabID)
		if err != nil {
			f.send(c, ServerMessage{Type: "error", Message: err.Error(), Code: "auth_failed"})
			return
		}

		c.mu.Lock()
		c.customerID = msg.CustomerID
		c.sessionID = msg.SessionID
		c.tabID = msg.TabID
		c.device = device
		c.mu.Unlock()

		f.auth.CancelDisconnect(msg.CustomerID, msg.SessionID)
		f.join(msg.CustomerID, c)

		f.send(c, ServerMessage{Type: "hello", Timestamp: time.Now().Unix(), SessionID: msg.SessionID})

	case "ttl_refresh":
		if err := f.auth.RefreshTTL(ctx, msg.CustomerID, msg.SessionID, msg.TabID, msg.SessionMode); err != nil {
			f.send(c, ServerMessage{Type: "error", Message: err.Error(), Code: "ttl_refresh_failed"})
		}

	case "ping":
		f.send(c, ServerMessage{Type: "pong", Timestamp: time.Now().Unix()})

	default:
		f.send(c, ServerMessage{Type: "error", Message: "unknown message type", Code: "bad_type"})
	}
}

func (f *Fleet) writePump(c *Client) {
	pingTicker := time.NewTicker(config.WSPingInterval)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-pingTicker.C:
			c.mu.Lock()
			c.missed++
			missed := c.missed
			c.mu.Unlock()

			if missed >= config.WSPongMissLimit {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send enqueues a message for delivery on the client's write pump.
// The closed check and the channel send happen under the same lock
// that onClose uses to mark the client closed and close the channel,
// so a send can never race a close into a send-on-closed-channel
// panic.
func (f *Fleet) send(c *Client, msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		if f.logger != nil {
			f.logger.Warn("client send buffer full, dropping message", "type", msg.Type)
		}
	}
}

func (f *Fleet) join(customerID string, c *Client) {
	f.mu.Lock()
	set, ok := f.byCustomer[customerID]
	if !ok {
		set = make(map[*Client]struct{})
		f.byCustomer[customerID] = set
	}
	firstClient := len(set) == 0
	set[c] = struct{}{}
	f.mu.Unlock()

	if firstClient && f.metrics != nil {
		f.startMetricsRelay(customerID)
	}
}

// startMetricsRelay subscribes to a customer's pub/sub metrics
// channel and forwards every update to the locally connected fleet,
// so sockets on this instance stay current even when another
// instance is the one computing that customer's EMA tick. The
// subscription is torn down once the last local socket for the
// customer disconnects.
func (f *Fleet) startMetricsRelay(customerID string) {
	ctx, cancel := context.WithCancel(context.Background())

	f.mu.Lock()
	if _, running := f.relayStop[customerID]; running {
		f.mu.Unlock()
		cancel()
		return
	}
	f.relayStop[customerID] = cancel
	f.mu.Unlock()

	pubsub := f.metrics.SubscribeMetrics(ctx, customerID)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update MetricsUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					if f.logger != nil {
						f.logger.Warn("metrics relay: bad payload", "error", err.Error())
					}
					continue
				}
				f.BroadcastMetrics(update.CustomerID, update.Count, update.EMA)
			}
		}
	}()
}

func (f *Fleet) stopMetricsRelay(customerID string) {
	f.mu.Lock()
	cancel, ok := f.relayStop[customerID]
	if ok {
		delete(f.relayStop, customerID)
	}
	f.mu.Unlock()

	if ok {
		cancel()
	}
}

func (f *Fleet) onClose(c *Client) {
	c.mu.Lock()
	c.closed = true
	customerID, sessionID, device := c.customerID, c.sessionID, c.device
	close(c.send)
	c.mu.Unlock()

	if customerID != "" {
		f.mu.Lock()
		lastClient := false
		if set, ok := f.byCustomer[customerID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(f.byCustomer, customerID)
				lastClient = true
			}
		}
		f.mu.Unlock()

		if lastClient {
			f.stopMetricsRelay(customerID)
		}
	}

	if sessionID != "" && device.IsMobileClass() {
		f.auth.ScheduleDisconnect(customerID, sessionID, device)
	}
}

// BroadcastMetrics sends a metrics:update to every socket registered
// for a customer. The client set is copied under lock before
// iterating so a concurrent join/close cannot race the send loop.
func (f *Fleet) BroadcastMetrics(customerID string, count int, ema float64) {
	f.mu.RLock()
	set := f.byCustomer[customerID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	f.mu.RUnlock()

	payload := MetricsPayload{
		CustomerID: customerID,
		Timestamp:  time.Now().Unix(),
		Count:      count,
		EMA:        ema,
	}

	for _, c := range clients {
		f.send(c, ServerMessage{Type: "metrics:update", Data: payload})
	}
}

// ClientCount returns the number of open sockets registered for a
// customer, primarily for diagnostics.
func (f *Fleet) ClientCount(customerID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byCustomer[customerID])
}
