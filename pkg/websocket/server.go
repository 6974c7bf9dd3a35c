// Package websocket streams committed engine events to WebSocket subscribers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/pkg/events"
)

// Channel names. ChannelAll carries every event.
const (
	ChannelAll          = "events"
	channelTypePrefix   = "events:"
	channelTraderPrefix = "trader:"
)

// ErrBacklog is returned by Publish when the hub cannot keep up.
var ErrBacklog = errors.New("websocket broadcast backlog full")

// TypeChannel is the channel of one event type.
func TypeChannel(typ string) string { return channelTypePrefix + typ }

// TraderChannel is the channel of every event concerning trader.
func TraderChannel(trader string) string { return channelTraderPrefix + trader }

// Server is the subscription hub. It implements events.Publisher and
// http.Handler.
type Server struct {
	logger   log.Logger
	config   Config
	upgrader websocket.Upgrader

	// Client management
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan []events.Envelope

	// Subscription management
	subscriptions map[string]map[*Client]bool // channel -> clients
	subMu         sync.RWMutex

	// Stats
	messagesOut uint64
	sequence    uint64
	clientCount int32

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Client represents a WebSocket client connection
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	channels map[string]bool
	closed   bool
	mu       sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Sequence  uint64      `json:"sequence,omitempty"`
}

// SubscribeRequest represents a subscription request
type SubscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Config holds WebSocket server configuration
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendBuffer      int
	BroadcastBuffer int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  64 * 1024,
		SendBuffer:      256,
		BroadcastBuffer: 1024,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second, // Must be less than PongTimeout
	}
}

// NewServer creates a hub. Call Start before serving connections.
func NewServer(logger log.Logger, config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger: logger,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 100),
		unregister:    make(chan *Client, 100),
		broadcast:     make(chan []events.Envelope, config.BroadcastBuffer),
		subscriptions: make(map[string]map[*Client]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start runs the hub.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.runHub()
}

// Stop disconnects every client and stops the hub.
func (s *Server) Stop() {
	s.logger.Info("Stopping WebSocket server")
	s.cancel()
	s.wg.Wait()
}

// Publish queues committed events for delivery. It never blocks the caller.
func (s *Server) Publish(envs []events.Envelope) error {
	select {
	case s.broadcast <- envs:
		return nil
	default:
		return fmt.Errorf("%w: dropped %d events", ErrBacklog, len(envs))
	}
}

// runHub manages client connections and message routing
func (s *Server) runHub() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.clientsMu.Lock()
			for client := range s.clients {
				s.removeLocked(client)
			}
			s.clientsMu.Unlock()
			return

		case client := <-s.register:
			s.clientsMu.Lock()
			s.clients[client] = true
			atomic.AddInt32(&s.clientCount, 1)
			s.clientsMu.Unlock()
			s.logger.Debug("Client connected", "id", client.id, "total", atomic.LoadInt32(&s.clientCount))

		case client := <-s.unregister:
			s.clientsMu.Lock()
			s.removeLocked(client)
			s.clientsMu.Unlock()
			s.logger.Debug("Client disconnected", "id", client.id, "total", atomic.LoadInt32(&s.clientCount))

		case envs := <-s.broadcast:
			for _, env := range envs {
				s.broadcastEvent(env)
			}

		case <-ticker.C:
			s.logger.Debug("WebSocket stats",
				"clients", atomic.LoadInt32(&s.clientCount),
				"messages", atomic.LoadUint64(&s.messagesOut))
		}
	}
}

// removeLocked drops client. Only the hub closes a send channel.
func (s *Server) removeLocked(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	atomic.AddInt32(&s.clientCount, -1)

	client.mu.Lock()
	client.closed = true
	client.mu.Unlock()

	s.unsubscribeAll(client)
	close(client.send)
}

// ServeHTTP upgrades the connection and registers the client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		server:   s,
		send:     make(chan []byte, s.config.SendBuffer),
		channels: make(map[string]bool),
	}

	s.register <- client

	go client.writePump()
	go client.readPump()

	client.sendMessage(Message{
		Type:      "welcome",
		Data:      map[string]interface{}{"id": client.id},
		Timestamp: time.Now().Unix(),
	})
}

// readPump handles incoming messages from client
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	cfg := c.server.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		var req SubscribeRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.sendError("Invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket read error", "id", c.id, "error", err)
			}
			return
		}
		c.handleMessage(req)
	}
}

// writePump handles outgoing messages to client
func (c *Client) writePump() {
	cfg := c.server.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			atomic.AddUint64(&c.server.messagesOut, 1)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(req SubscribeRequest) {
	switch req.Type {
	case "subscribe":
		if len(req.Channels) == 0 {
			c.sendError("Invalid channels format")
			return
		}
		for _, channel := range req.Channels {
			if !validChannel(channel) {
				c.sendError(fmt.Sprintf("Unknown channel: %s", channel))
				return
			}
		}
		c.mu.Lock()
		for _, channel := range req.Channels {
			c.channels[channel] = true
		}
		c.mu.Unlock()
		for _, channel := range req.Channels {
			c.server.subscribe(channel, c)
		}
		c.sendMessage(Message{
			Type:      "subscribed",
			Data:      map[string]interface{}{"channels": req.Channels},
			Timestamp: time.Now().Unix(),
		})

	case "unsubscribe":
		c.mu.Lock()
		for _, channel := range req.Channels {
			delete(c.channels, channel)
		}
		c.mu.Unlock()
		for _, channel := range req.Channels {
			c.server.unsubscribe(channel, c)
		}
		c.sendMessage(Message{
			Type:      "unsubscribed",
			Data:      map[string]interface{}{"channels": req.Channels},
			Timestamp: time.Now().Unix(),
		})

	case "ping":
		c.sendMessage(Message{Type: "pong", Timestamp: time.Now().Unix()})

	case "":
		c.sendError("Missing message type")

	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", req.Type))
	}
}

func validChannel(channel string) bool {
	switch {
	case channel == ChannelAll:
		return true
	case strings.HasPrefix(channel, channelTypePrefix):
		return len(channel) > len(channelTypePrefix)
	case strings.HasPrefix(channel, channelTraderPrefix):
		return len(channel) > len(channelTraderPrefix)
	}
	return false
}

// sendMessage queues msg for the client, dropping it when the client is gone
// or its buffer is full.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Error("Failed to marshal message", "error", err)
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.logger.Warn("client send buffer full", "id", c.id)
	}
}

func (c *Client) sendError(message string) {
	c.sendMessage(Message{
		Type:      "error",
		Data:      map[string]interface{}{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

// subscribe adds a client to a channel. A removed client is never re-added.
func (s *Server) subscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	client.mu.RLock()
	closed := client.closed
	client.mu.RUnlock()
	if closed {
		return
	}

	if s.subscriptions[channel] == nil {
		s.subscriptions[channel] = make(map[*Client]bool)
	}
	s.subscriptions[channel][client] = true
}

// unsubscribe removes a client from a channel
func (s *Server) unsubscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if clients, ok := s.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// unsubscribeAll removes a client from all channels
func (s *Server) unsubscribeAll(client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for channel, clients := range s.subscriptions {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// broadcastEvent delivers env once to each client subscribed to any of its
// channels. Runs on the hub goroutine.
func (s *Server) broadcastEvent(env events.Envelope) {
	channels := []string{ChannelAll, TypeChannel(env.Type)}
	if trader := env.Trader(); trader != "" {
		channels = append(channels, TraderChannel(trader))
	}

	seq := atomic.AddUint64(&s.sequence, 1)
	delivered := make(map[*Client]bool)
	var slow []*Client

	s.subMu.RLock()
	for _, channel := range channels {
		clients := s.subscriptions[channel]
		if len(clients) == 0 {
			continue
		}
		data, err := json.Marshal(Message{
			Type:      "event",
			Channel:   channel,
			Data:      env,
			Timestamp: env.Time.Unix(),
			Sequence:  seq,
		})
		if err != nil {
			s.logger.Error("Failed to marshal broadcast message", "error", err)
			continue
		}
		for client := range clients {
			if delivered[client] {
				continue
			}
			delivered[client] = true
			select {
			case client.send <- data:
			default:
				slow = append(slow, client)
			}
		}
	}
	s.subMu.RUnlock()

	if len(slow) > 0 {
		s.clientsMu.Lock()
		for _, client := range slow {
			s.logger.Warn("dropping slow client", "id", client.id)
			s.removeLocked(client)
		}
		s.clientsMu.Unlock()
	}
}

// GetStats returns server statistics
func (s *Server) GetStats() map[string]interface{} {
	s.subMu.RLock()
	numChannels := len(s.subscriptions)
	s.subMu.RUnlock()

	return map[string]interface{}{
		"clients":       atomic.LoadInt32(&s.clientCount),
		"messages_sent": atomic.LoadUint64(&s.messagesOut),
		"channels":      numChannels,
	}
}
