package room

import (
	"time"

	"github.com/mcdev12/studysync/go/internal/models"
)

// EventKind names an outbound frame.
type EventKind string

const (
	EventMembersUpdated  EventKind = "members.updated"
	EventTimerUpdated    EventKind = "timer.updated"
	EventChatReceived    EventKind = "chat.received"
	EventJoinDenied      EventKind = "joinDenied"
	EventHostStatus      EventKind = "hostStatus"
	EventRoomListChanged EventKind = "roomListChanged"
	EventSessionEnded    EventKind = "sessionEnded"
	EventPong            EventKind = "pong"
	EventError           EventKind = "error"
)

// MemberView is a member as clients see it.
type MemberView struct {
	ConnectionID string    `json:"connectionId"`
	PersistentID string    `json:"persistentId,omitempty"`
	DisplayName  string    `json:"displayName"`
	IsVerified   bool      `json:"isVerified"`
	IsHost       bool      `json:"isHost"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type HostStatusPayload struct {
	IsHost bool `json:"isHost"`
}

type RoomListChangedPayload struct {
	Room string `json:"room"`
}

type SessionEndedPayload struct {
	Reason string `json:"reason"`
	HostID string `json:"hostId"`
}

type JoinDeniedPayload struct {
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// ChatPayload is a chat.received frame. History marks replayed messages.
type ChatPayload struct {
	models.Message
	History bool `json:"history,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Broadcaster delivers frames to connections and tracks which connections
// are subscribed to which room. Delivery never blocks.
type Broadcaster interface {
	BroadcastToRoom(room string, kind EventKind, payload interface{})
	BroadcastGlobal(kind EventKind, payload interface{})
	SendTo(connectionID, room string, kind EventKind, payload interface{})
	Subscribe(room, connectionID string)
	Unsubscribe(room, connectionID string)
	RoomConnections(room string) []string
}

// Persister receives write-behind updates. Implementations must not block.
type Persister interface {
	SaveMembers(room, hostID string, members []models.RoomMember, at time.Time)
	PurgeRoom(room string)
}

// ActivityKind names an entry on the room activity stream.
type ActivityKind string

const (
	ActivityMemberJoined ActivityKind = "member_joined"
	ActivityMemberLeft   ActivityKind = "member_left"
	ActivityHostChanged  ActivityKind = "host_changed"
	ActivityTimerChanged ActivityKind = "timer_changed"
	ActivitySessionEnded ActivityKind = "session_ended"
	ActivityRoomClosed   ActivityKind = "room_closed"
)

// Activity is a fact about a room published for other services.
type Activity struct {
	Kind    ActivityKind
	Room    string
	At      time.Time
	Payload interface{}
}

// ActivityPublisher ships activities off-process. Implementations must not
// block the caller.
type ActivityPublisher interface {
	PublishActivity(a Activity)
}

type nopActivity struct{}

func (nopActivity) PublishActivity(Activity) {}
