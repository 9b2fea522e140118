package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
)

const (
	// Subprotocol is the WebSocket subprotocol browser clients request.
	Subprotocol = "od4"

	// DefaultWriteTimeout is the deadline for a single write to a client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultSendBuffer is the per-client outgoing frame buffer depth.
	DefaultSendBuffer = 256

	// DefaultMaxMessageSize caps a single inbound frame.
	DefaultMaxMessageSize = 1 << 20

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrClientNotFound = errors.New("ws: client not found")
	ErrSlowClient     = errors.New("ws: client send buffer full")
)

// ClientInfo describes one connected client.
type ClientInfo struct {
	ID          uint32    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Receiver consumes the frames of one connection. Receive is called from the
// connection's read goroutine only; Close is called once, after the last
// Receive.
type Receiver interface {
	Receive(data []byte)
	Close()
}

// Acceptor creates the Receiver for each new connection.
type Acceptor interface {
	Accept(info ClientInfo) Receiver
}

// Options tunes a Hub. Zero values select the defaults.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Hub is the registry of connected WebSocket clients. It fans broadcasts out
// to every client and hands inbound frames to the Acceptor's receivers.
type Hub struct {
	acceptor Acceptor
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	lastID atomic.Uint32

	mu      sync.RWMutex
	clients map[uint32]*Client
}

// Client is the outbound side of one registered client.
type Client struct {
	info ClientInfo
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// ID returns the id the hub assigned to c.
func (c *Client) ID() uint32 { return c.info.ID }

func (c *Client) Info() ClientInfo { return c.info }

// Outbox is the stream of frames queued for c. It is closed when c is
// unregistered.
func (c *Client) Outbox() <-chan []byte { return c.send }

func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientNotFound
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// New creates a Hub. acceptor may be nil, in which case inbound frames are
// discarded.
func New(acceptor Acceptor, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		acceptor: acceptor,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{Subprotocol},
			// Allow all origins; the UI may be served from another host.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[uint32]*Client),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until the connection closes. The path is ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		h.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := h.register(r.RemoteAddr, conn)
	info := c.Info()
	logger := h.logger.With("client_id", info.ID, "remote_addr", info.RemoteAddr)
	logger.Info("client connected", "clients", h.Count())

	var recv Receiver = discard{}
	if h.acceptor != nil {
		recv = h.acceptor.Accept(info)
	}
	defer func() {
		recv.Close()
		h.Unregister(info.ID)
		logger.Info("client disconnected", "clients", h.Count())
	}()

	go h.writePump(c)
	h.readPump(c, recv) // blocks until connection closes
}

// Register adds a client without a connection and returns it. Frames queued
// for it are read from Client.Outbox.
func (h *Hub) Register(remoteAddr string) *Client {
	return h.register(remoteAddr, nil)
}

// Unregister removes the client with id and closes its outbox. It reports
// whether the client was registered.
func (h *Hub) Unregister(id uint32) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	c.close()
	h.metrics.ClientDisconnected()
	return true
}

// ForEach calls fn for every client registered at the time of the call.
// fn may register or unregister clients.
func (h *Hub) ForEach(fn func(ClientInfo)) {
	for _, c := range h.snapshot() {
		fn(c.info)
	}
}

// Broadcast queues data for every client and returns how many accepted it.
// A client whose buffer is full is unregistered; the others are unaffected.
func (h *Hub) Broadcast(data []byte) int {
	delivered := 0
	for _, c := range h.snapshot() {
		if err := h.deliver(c, data); err == nil {
			delivered++
		}
	}
	h.metrics.Broadcast(len(data) * delivered)
	return delivered
}

// SendTo queues data for a single client.
func (h *Hub) SendTo(id uint32, data []byte) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrClientNotFound
	}
	return h.deliver(c, data)
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients lists the connected clients ordered by id.
func (h *Hub) Clients() []ClientInfo {
	snap := h.snapshot()
	out := make([]ClientInfo, 0, len(snap))
	for _, c := range snap {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(remoteAddr string, conn *websocket.Conn) *Client {
	c := &Client{
		info: ClientInfo{
			ID:          h.lastID.Add(1),
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now().UTC(),
		},
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
	}
	h.mu.Lock()
	h.clients[c.info.ID] = c
	h.mu.Unlock()
	h.metrics.ClientConnected()
	return c
}

func (h *Hub) deliver(c *Client, data []byte) error {
	err := c.enqueue(data)
	if errors.Is(err, ErrSlowClient) {
		// Client's outgoing buffer is full; disconnect it.
		if h.Unregister(c.info.ID) {
			h.metrics.ClientDropped()
			h.logger.Warn("dropping slow client", "client_id", c.info.ID, "remote_addr", c.info.RemoteAddr)
		}
	}
	return err
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.Unregister(c.info.ID)
	}
}

// writePump drains the client's send channel and forwards frames to the
// WebSocket connection as binary messages, one envelope per frame. It also
// sends periodic ping frames. Runs in its own goroutine per client.
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				h.logger.Debug("client write failed", "client_id", c.info.ID, "err", err)
				h.Unregister(c.info.ID)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c.info.ID)
				return
			}
		}
	}
}

// readPump forwards every text or binary frame to recv and handles control
// frames. Blocks until the connection closes.
func (h *Hub) readPump(c *Client, recv Receiver) {
	defer c.conn.Close()
	c.conn.SetReadLimit(h.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("client read failed", "client_id", c.info.ID, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		recv.Receive(msg)
	}
}

type discard struct{}

func (discard) Receive([]byte) {}
func (discard) Close()         {}
