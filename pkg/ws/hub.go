package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// clientSendBuffer bounds the per-connection outbound queue. A client that
// falls this far behind starts losing events rather than blocking the
// pipeline.
const clientSendBuffer = 64

// client pairs a connection with its outbound queue. Gorilla connections
// allow only one concurrent writer, so all writes happen on the single
// goroutine draining send.
type client struct {
	conn *websocket.Conn
	send chan *Event

	mu     sync.Mutex
	closed bool
}

// enqueue queues an event without blocking. Returns false when the client
// is closed or its queue is full.
func (c *client) enqueue(event *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub tracks live connections and fans events out to them. There are two
// channel kinds: workspace channels (everyone watching one workspace) and
// user channels (one user's notification stream).
//
// When a Redis client is provided, events are published to Redis and every
// engine instance delivers what it receives from its subscription, so
// clients connected to different instances all see the event. Without
// Redis, delivery is local to this process.
type Hub struct {
	mu             sync.RWMutex
	clients        map[*websocket.Conn]*client
	workspaceConns map[uuid.UUID]map[*websocket.Conn]*client
	userConns      map[uuid.UUID]map[*websocket.Conn]*client

	rdb    *redis.Client
	logger *zap.Logger
}

// NewHub creates a connection hub. rdb may be nil for single-process mode.
func NewHub(rdb *redis.Client, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[*websocket.Conn]*client),
		workspaceConns: make(map[uuid.UUID]map[*websocket.Conn]*client),
		userConns:      make(map[uuid.UUID]map[*websocket.Conn]*client),
		rdb:            rdb,
		logger:         logger.Named("ws"),
	}
}

const (
	workspaceChannelPrefix = "workspace:"
	userChannelPrefix      = "user:"
)

// Run subscribes to the Redis event channels and delivers incoming events to
// local connections. Blocks until ctx is cancelled. No-op without Redis.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		<-ctx.Done()
		return
	}

	sub := h.rdb.PSubscribe(ctx, workspaceChannelPrefix+"*", userChannelPrefix+"*")
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliverFromChannel(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) deliverFromChannel(channel string, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("dropping malformed event", zap.String("channel", channel), zap.Error(err))
		return
	}

	switch {
	case strings.HasPrefix(channel, workspaceChannelPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(channel, workspaceChannelPrefix))
		if err != nil {
			return
		}
		h.deliverLocal(h.workspaceConns, id, &event)
	case strings.HasPrefix(channel, userChannelPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(channel, userChannelPrefix))
		if err != nil {
			return
		}
		h.deliverLocal(h.userConns, id, &event)
	}
}

// BroadcastToWorkspace pushes an event to everyone watching a workspace.
// Fire-and-forget: delivery failures are logged, never returned.
func (h *Hub) BroadcastToWorkspace(ctx context.Context, workspaceID uuid.UUID, event *Event) {
	event.WorkspaceID = &workspaceID
	h.publish(ctx, workspaceChannelPrefix+workspaceID.String(), h.workspaceConns, workspaceID, event)
}

// NotifyUser pushes an event to one user's notification stream.
func (h *Hub) NotifyUser(ctx context.Context, userID uuid.UUID, event *Event) {
	h.publish(ctx, userChannelPrefix+userID.String(), h.userConns, userID, event)
}

func (h *Hub) publish(ctx context.Context, channel string, conns map[uuid.UUID]map[*websocket.Conn]*client, id uuid.UUID, event *Event) {
	if h.rdb != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to marshal event", zap.Error(err))
			return
		}
		if err := h.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			h.logger.Warn("failed to publish event, delivering locally",
				zap.String("channel", channel), zap.Error(err))
			h.deliverLocal(conns, id, event)
		}
		return
	}
	h.deliverLocal(conns, id, event)
}

func (h *Hub) deliverLocal(conns map[uuid.UUID]map[*websocket.Conn]*client, id uuid.UUID, event *Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(conns[id]))
	for _, c := range conns[id] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(event) {
			h.logger.Debug("dropping event for slow or closed connection")
		}
	}
}

// register finds or creates the client for a connection and starts its
// writer. Caller holds h.mu.
func (h *Hub) register(conn *websocket.Conn) *client {
	if c, ok := h.clients[conn]; ok {
		return c
	}
	c := &client{conn: conn, send: make(chan *Event, clientSendBuffer)}
	h.clients[conn] = c
	go h.writeLoop(c)
	return c
}

// writeLoop is the sole writer for one connection. It exits when the client
// is closed or the first write fails.
func (h *Hub) writeLoop(c *client) {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			h.logger.Debug("dropping dead connection", zap.Error(err))
			h.removeConn(c.conn)
			return
		}
	}
}

// AddWorkspaceConn registers a connection on a workspace channel.
func (h *Hub) AddWorkspaceConn(workspaceID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.register(conn)
	if h.workspaceConns[workspaceID] == nil {
		h.workspaceConns[workspaceID] = make(map[*websocket.Conn]*client)
	}
	h.workspaceConns[workspaceID][conn] = c
}

// AddUserConn registers a connection on a user's notification channel.
func (h *Hub) AddUserConn(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.register(conn)
	if h.userConns[userID] == nil {
		h.userConns[userID] = make(map[*websocket.Conn]*client)
	}
	h.userConns[userID][conn] = c
}

// RemoveConn unregisters a connection from every channel it joined.
func (h *Hub) RemoveConn(conn *websocket.Conn) {
	h.removeConn(conn)
}

func (h *Hub) removeConn(conn *websocket.Conn) {
	h.mu.Lock()
	c := h.clients[conn]
	delete(h.clients, conn)
	for id, set := range h.workspaceConns {
		if _, ok := set[conn]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.workspaceConns, id)
			}
		}
	}
	for id, set := range h.userConns {
		if _, ok := set[conn]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.userConns, id)
			}
		}
	}
	h.mu.Unlock()

	if c != nil {
		c.close()
	}
}
