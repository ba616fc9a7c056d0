package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/rs/zerolog/log"
)

// FrameHandler receives a connection's lifecycle and inbound frames. Frames
// from one connection are delivered one at a time, in order.
type FrameHandler interface {
	Open(conn *Connection)
	Handle(ctx context.Context, conn *Connection, frame []byte)
	Close(ctx context.Context, conn *Connection)
}

// ConnectionManager owns every open websocket and the room subscriptions
// used for fan-out.
type ConnectionManager struct {
	connections map[string]*Connection
	rooms       map[string]map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	dropped atomic.Int64
}

// Connection is one client websocket.
type Connection struct {
	ID       string
	Identity models.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	lastPong    atomic.Int64

	sendMu sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager.
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		clock:  clock,
	}
}

// NewConnection builds a connection that is not yet registered. ws may be
// nil for connections driven directly through their Send channel.
func (cm *ConnectionManager) NewConnection(id string, identity models.Identity, ws *websocket.Conn) *Connection {
	now := cm.clock.Now()
	c := &Connection{
		ID:          id,
		Identity:    identity,
		Conn:        ws,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: now,
	}
	c.lastPong.Store(now.UnixNano())
	return c
}

// Upgrade upgrades the request, resolves its identity and starts the pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, resolve func(connectionID string) models.Identity, handler FrameHandler) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	id := uuid.NewString()
	conn := cm.NewConnection(id, resolve(id), ws)
	cm.Register(conn)
	handler.Open(conn)

	go conn.writePump()
	go conn.readPump(handler)

	log.Info().
		Str("connection_id", conn.ID).
		Str("persistent_id", conn.Identity.PersistentID).
		Bool("verified", conn.Identity.IsVerified).
		Msg("websocket connection established")
	return nil
}

// Register adds a connection to the manager.
func (cm *ConnectionManager) Register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// Unregister removes a connection from the manager and every room, then
// closes its send channel. It is safe to call more than once.
func (cm *ConnectionManager) Unregister(conn *Connection) {
	cm.mu.Lock()
	if _, ok := cm.connections[conn.ID]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	for name, members := range cm.rooms {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(cm.rooms, name)
		}
	}
	cm.mu.Unlock()

	conn.close()
	log.Info().
		Str("connection_id", conn.ID).
		Str("persistent_id", conn.Identity.PersistentID).
		Msg("connection unregistered")
}

// Subscribe adds a registered connection to a room's fan-out set.
func (cm *ConnectionManager) Subscribe(roomName, connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connectionID]
	if !ok {
		return
	}
	if cm.rooms[roomName] == nil {
		cm.rooms[roomName] = make(map[string]*Connection)
	}
	cm.rooms[roomName][connectionID] = conn
}

// Unsubscribe removes a connection from a room's fan-out set.
func (cm *ConnectionManager) Unsubscribe(roomName, connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if members, ok := cm.rooms[roomName]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(cm.rooms, roomName)
		}
	}
}

// RoomConnections returns the ids subscribed to a room.
func (cm *ConnectionManager) RoomConnections(roomName string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]string, 0, len(cm.rooms[roomName]))
	for id := range cm.rooms[roomName] {
		out = append(out, id)
	}
	return out
}

// BroadcastToRoom sends an event to every connection subscribed to a room.
func (cm *ConnectionManager) BroadcastToRoom(roomName string, kind room.EventKind, payload interface{}) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.rooms[roomName]))
	for _, c := range cm.rooms[roomName] {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	cm.deliver(targets, roomName, kind, payload)
}

// BroadcastGlobal sends an event to every open connection.
func (cm *ConnectionManager) BroadcastGlobal(kind room.EventKind, payload interface{}) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	cm.deliver(targets, "", kind, payload)
}

// SendTo sends an event to one connection.
func (cm *ConnectionManager) SendTo(connectionID, roomName string, kind room.EventKind, payload interface{}) {
	cm.mu.RLock()
	conn, ok := cm.connections[connectionID]
	cm.mu.RUnlock()
	if !ok {
		return
	}
	cm.deliver([]*Connection{conn}, roomName, kind, payload)
}

func (cm *ConnectionManager) encode(roomName string, kind room.EventKind, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      kind,
		Room:      roomName,
		Timestamp: cm.clock.Now().UTC(),
		Data:      payload,
	})
}

func (cm *ConnectionManager) deliver(targets []*Connection, roomName string, kind room.EventKind, payload interface{}) {
	if len(targets) == 0 {
		return
	}

	// Marshal the event once
	data, err := cm.encode(roomName, kind, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(kind)).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		switch conn.trySend(data) {
		case sendFull:
			cm.dropped.Add(1)
			log.Warn().
				Str("connection_id", conn.ID).
				Str("room", roomName).
				Str("event_type", string(kind)).
				Msg("connection send buffer full, dropping frame")
		case sendClosed:
			log.Debug().
				Str("connection_id", conn.ID).
				Str("event_type", string(kind)).
				Msg("connection closed, skipping frame")
		}
	}

	log.Debug().
		Str("event_type", string(kind)).
		Str("room", roomName).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.rooms))
	for name, members := range cm.rooms {
		roomCounts[name] = len(members)
	}

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"active_rooms":      len(cm.rooms),
		"room_connections":  roomCounts,
		"dropped_frames":    cm.dropped.Load(),
	}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

// trySend queues data without blocking. Only sendFull counts as a dropped
// frame; a closed connection is already on its way out.
func (c *Connection) trySend(data []byte) sendResult {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return sendClosed
	}
	select {
	case c.Send <- data:
		return sendOK
	default:
		return sendFull
	}
}

func (c *Connection) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// writePump drains Send onto the socket and keeps it alive with pings.
func (c *Connection) writePump() {
	cfg := c.Manager.config
	ticker := c.Manager.clock.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.Chan():
			if idle := c.Manager.clock.Since(c.LastPong()); idle > cfg.ReadTimeout {
				log.Warn().Str("connection_id", c.ID).Dur("idle", idle).Msg("closing unresponsive websocket")
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump feeds inbound frames to the handler until the socket closes.
func (c *Connection) readPump(handler FrameHandler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		handler.Close(context.Background(), c)
		c.Manager.Unregister(c)
		c.Conn.Close()
	}()

	cfg := c.Manager.config
	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.lastPong.Store(c.Manager.clock.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			return
		}

		handler.Handle(ctx, c, message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// LastPong reports when the client last answered a ping.
func (c *Connection) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}
