package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/mcdev12/studysync/go/internal/room/store"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	anonymousUserName   = "Anonymous User"
)

// ErrNotJoined is returned for room commands from a connection that is not
// in that room.
var ErrNotJoined = errors.New("connection has not joined this room")

// SessionState is where a connection is in its lifecycle.
type SessionState int

const (
	StateConnected SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state machine:
// Connected -> Joined(room) -> Connected (leave, session ended) -> Closed.
type Session struct {
	Conn *Connection

	mu    sync.Mutex
	state SessionState
	room  string
}

// State returns the current state and joined room.
func (s *Session) State() (SessionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.room
}

func (s *Session) set(state SessionState, roomName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state, s.room = state, roomName
}

func (s *Session) joined(roomName string) bool {
	state, current := s.State()
	return state == StateJoined && current == roomName
}

// MessageWriter persists chat lines without blocking the caller.
type MessageWriter interface {
	SaveMessage(msg models.Message)
}

// Controller turns client frames into registry operations.
type Controller struct {
	registry     *room.Registry
	rooms        store.Store
	messages     MessageWriter
	out          room.Broadcaster
	clock        clockwork.Clock
	historyLimit int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewController wires a controller. rooms is read synchronously for room
// lookups; messages receives chat writes.
func NewController(registry *room.Registry, rooms store.Store, messages MessageWriter, out room.Broadcaster, clock clockwork.Clock, historyLimit int) *Controller {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Controller{
		registry:     registry,
		rooms:        rooms,
		messages:     messages,
		out:          out,
		clock:        clock,
		historyLimit: historyLimit,
		sessions:     make(map[string]*Session),
	}
}

// Open starts a session for a new connection.
func (c *Controller) Open(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[conn.ID] = &Session{Conn: conn, state: StateConnected}
}

// Session returns the session of a connection.
func (c *Controller) Session(connectionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[connectionID]
	return s, ok
}

// Close removes the connection from every room it was in.
func (c *Controller) Close(ctx context.Context, conn *Connection) {
	c.mu.Lock()
	s, ok := c.sessions[conn.ID]
	delete(c.sessions, conn.ID)
	c.mu.Unlock()
	if ok {
		s.mu.Lock()
		s.state, s.room = StateClosed, ""
		s.mu.Unlock()
	}

	rooms, err := c.registry.Disconnect(ctx, conn.ID)
	if err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to disconnect connection from rooms")
		return
	}
	log.Debug().Str("connection_id", conn.ID).Strs("rooms", rooms).Msg("connection closed")
}

// Handle decodes and dispatches one inbound frame.
func (c *Controller) Handle(ctx context.Context, conn *Connection, frame []byte) {
	s, ok := c.Session(conn.ID)
	if !ok {
		return
	}

	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		c.badPayload(conn, "", err)
		return
	}

	var err error
	switch in.Type {
	case InboundJoin:
		var d JoinData
		if err = decode(in.Data, &d); err == nil {
			err = c.Join(ctx, s, d)
		}
	case InboundLeave:
		var d RoomData
		if err = decode(in.Data, &d); err == nil {
			err = c.Leave(ctx, s, d.Room)
		}
	case InboundTimerStart, InboundTimerPause, InboundTimerReset:
		var d TimerData
		if err = decode(in.Data, &d); err == nil {
			err = c.Timer(ctx, s, in.Type, d)
		}
	case InboundChatSend:
		var d ChatData
		if err = decode(in.Data, &d); err == nil {
			_, err = c.PostMessage(ctx, s, d.Room, d.Message)
		}
	case InboundRequestHistory:
		var d RoomData
		if err = decode(in.Data, &d); err == nil {
			err = c.SendHistory(ctx, s, d.Room)
		}
	case InboundRequestMembers:
		var d RoomData
		if err = decode(in.Data, &d); err == nil {
			err = c.SendMembers(ctx, s, d.Room)
		}
	case InboundSetHost:
		var d SetHostData
		if err = decode(in.Data, &d); err == nil {
			err = c.SetHost(ctx, s, d)
		}
	case InboundEndSession:
		var d RoomData
		if err = decode(in.Data, &d); err == nil {
			err = c.EndSession(ctx, s, d.Room)
		}
	case InboundPing:
		c.out.SendTo(conn.ID, "", room.EventPong, nil)
	default:
		log.Debug().Str("connection_id", conn.ID).Str("type", string(in.Type)).Msg("ignoring unknown frame type")
		return
	}

	var bad *payloadError
	switch {
	case err == nil:
	case errors.As(err, &bad):
		c.badPayload(conn, string(in.Type), bad.err)
	case errors.Is(err, room.ErrNotHost), errors.Is(err, ErrNotJoined), errors.Is(err, room.ErrRoomNotFound):
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Str("type", string(in.Type)).
			Msg("ignoring command")
	default:
		log.Error().
			Err(err).
			Str("connection_id", conn.ID).
			Str("type", string(in.Type)).
			Msg("failed to handle frame")
	}
}

type payloadError struct{ err error }

func (e *payloadError) Error() string { return "bad payload: " + e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

func decode(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return &payloadError{err: errors.New("missing data")}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &payloadError{err: err}
	}
	return nil
}

func (c *Controller) badPayload(conn *Connection, frameType string, err error) {
	log.Debug().Err(err).Str("connection_id", conn.ID).Str("type", frameType).Msg("malformed frame")
	c.out.SendTo(conn.ID, "", room.EventError, room.ErrorPayload{Error: "bad_payload"})
}

// lookup fetches the persisted room. A missing room is (nil, nil).
func (c *Controller) lookup(ctx context.Context, name string) (*models.Room, error) {
	rec, err := c.rooms.GetRoom(ctx, name)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up room: %w", err)
	}
	return rec, nil
}

// Join moves the session into a room, leaving its previous room first.
// Denials are reported to this connection only.
func (c *Controller) Join(ctx context.Context, s *Session, d JoinData) error {
	name := strings.TrimSpace(d.Room)
	if name == "" {
		return &payloadError{err: errors.New("room is required")}
	}
	conn := s.Conn

	if state, current := s.State(); state == StateJoined && current != name {
		if err := c.Leave(ctx, s, current); err != nil {
			return err
		}
	}

	rec, err := c.lookup(ctx, name)
	if err != nil {
		c.deny(conn, name, "Unable to load room")
		return err
	}

	res, err := c.registry.Join(ctx, room.JoinRequest{
		Room:        name,
		Identity:    conn.Identity,
		DisplayName: d.DisplayName,
		AsHost:      d.AsHost,
		Record:      rec,
	})
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		c.deny(conn, name, "Room not found")
		return nil
	case errors.Is(err, room.ErrNotAllowed):
		c.deny(conn, name, "You are not allowed to join this private room")
		return nil
	case err != nil:
		return err
	}

	c.release(name, res.Replaced)
	s.set(StateJoined, name)
	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", name).
		Bool("is_host", res.IsHost).
		Msg("session joined room")

	return c.SendHistory(ctx, s, name)
}

func (c *Controller) deny(conn *Connection, roomName, reason string) {
	c.out.SendTo(conn.ID, roomName, room.EventJoinDenied, room.JoinDeniedPayload{Room: roomName, Reason: reason})
	log.Info().Str("connection_id", conn.ID).Str("room", roomName).Str("reason", reason).Msg("join denied")
}

// Leave removes the session from a room.
func (c *Controller) Leave(ctx context.Context, s *Session, roomName string) error {
	if err := c.registry.Leave(ctx, roomName, s.Conn.ID); err != nil {
		return err
	}
	if s.joined(roomName) {
		s.set(StateConnected, "")
	}
	return nil
}

// Timer applies a host timer command.
func (c *Controller) Timer(ctx context.Context, s *Session, kind InboundType, d TimerData) error {
	id := s.Conn.Identity
	switch kind {
	case InboundTimerStart:
		return c.registry.StartTimer(ctx, d.Room, id, d.Timer)
	case InboundTimerPause:
		return c.registry.PauseTimer(ctx, d.Room, id)
	case InboundTimerReset:
		if d.Timer == nil {
			return &payloadError{err: errors.New("timer is required")}
		}
		return c.registry.ResetTimer(ctx, d.Room, id, *d.Timer)
	}
	return fmt.Errorf("unknown timer command %q", kind)
}

// Author resolves who a chat line is from. A verified connection always
// speaks as itself; otherwise client claims are taken in order.
func Author(id models.Identity, msg ClientMessage) (name, authorID string, verified bool) {
	switch {
	case id.IsVerified:
		return id.DisplayName, id.PersistentID, true
	case msg.IsAuthenticated && msg.UserID != "":
		name = msg.User
		if name == "" {
			name = id.DisplayName
		}
		return name, msg.UserID, true
	case msg.User != "" && msg.User != anonymousUserName:
		return msg.User, id.ConnectionID, false
	default:
		return id.DisplayName, id.ConnectionID, false
	}
}

// PostMessage relays a chat line to the whole room, sender included, and
// queues it for storage.
func (c *Controller) PostMessage(ctx context.Context, s *Session, roomName string, msg ClientMessage) (*models.Message, error) {
	if !s.joined(roomName) {
		return nil, ErrNotJoined
	}

	name, authorID, verified := Author(s.Conn.Identity, msg)
	m := models.Message{
		ID:                uuid.NewString(),
		Room:              roomName,
		AuthorDisplayName: name,
		AuthorID:          authorID,
		Text:              msg.Text,
		IsVerified:        verified,
		CreatedAt:         c.clock.Now().UTC(),
	}

	c.out.BroadcastToRoom(roomName, room.EventChatReceived, room.ChatPayload{Message: m})
	c.messages.SaveMessage(m)
	return &m, nil
}

// SendHistory replays stored chat to this connection, oldest first.
func (c *Controller) SendHistory(ctx context.Context, s *Session, roomName string) error {
	msgs, err := c.rooms.GetMessages(ctx, roomName, c.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	for _, m := range msgs {
		c.out.SendTo(s.Conn.ID, roomName, room.EventChatReceived, room.ChatPayload{Message: m, History: true})
	}
	return nil
}

// SendMembers replays the live member list to this connection.
func (c *Controller) SendMembers(ctx context.Context, s *Session, roomName string) error {
	members, err := c.registry.Members(ctx, roomName)
	if err != nil {
		return err
	}
	c.out.SendTo(s.Conn.ID, roomName, room.EventMembersUpdated, members)
	return nil
}

// SetHost reassigns the room host after looking the room up.
func (c *Controller) SetHost(ctx context.Context, s *Session, d SetHostData) error {
	rec, err := c.lookup(ctx, d.Room)
	if err != nil {
		return err
	}
	return c.registry.SetHost(ctx, room.SetHostRequest{
		Room:         d.Room,
		Requester:    s.Conn.Identity,
		PersistentID: d.PersistentID,
		Record:       rec,
	})
}

// EndSession closes the room for everyone if the requester is its host.
func (c *Controller) EndSession(ctx context.Context, s *Session, roomName string) error {
	rec, err := c.lookup(ctx, roomName)
	if err != nil {
		return err
	}
	res, err := c.registry.EndSession(ctx, roomName, s.Conn.Identity, rec)
	if err != nil {
		return err
	}

	c.release(roomName, res.Connections)
	if s.joined(roomName) {
		s.set(StateConnected, "")
	}
	return nil
}

// release returns the sessions of the given connections to Connected if
// they are still joined to roomName.
func (c *Controller) release(roomName string, connectionIDs []string) {
	c.mu.Lock()
	affected := make([]*Session, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if other, ok := c.sessions[id]; ok {
			affected = append(affected, other)
		}
	}
	c.mu.Unlock()

	for _, other := range affected {
		if other.joined(roomName) {
			other.set(StateConnected, "")
		}
	}
}
