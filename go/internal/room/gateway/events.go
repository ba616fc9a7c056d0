package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/studysync/go/internal/room"
)

// Envelope is every frame the gateway writes.
type Envelope struct {
	ID        string         `json:"id"`
	Type      room.EventKind `json:"type"`
	Room      string         `json:"room,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      interface{}    `json:"data,omitempty"`
}

// InboundType names a frame sent by a client.
type InboundType string

const (
	InboundJoin           InboundType = "join"
	InboundLeave          InboundType = "leave"
	InboundTimerStart     InboundType = "timer.start"
	InboundTimerPause     InboundType = "timer.pause"
	InboundTimerReset     InboundType = "timer.reset"
	InboundChatSend       InboundType = "chat.send"
	InboundRequestHistory InboundType = "requestHistory"
	InboundRequestMembers InboundType = "requestMembers"
	InboundSetHost        InboundType = "setHost"
	InboundEndSession     InboundType = "endSession"
	InboundPing           InboundType = "ping"
)

// Inbound is every frame a client sends.
type Inbound struct {
	Type InboundType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinData struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
	AsHost      bool   `json:"asHost"`
}

type RoomData struct {
	Room string `json:"room"`
}

type TimerData struct {
	Room  string            `json:"room"`
	Timer *room.TimerConfig `json:"timer,omitempty"`
}

// ClientMessage is chat as the client sends it. User, UserID and
// IsAuthenticated are claims; the controller decides what to trust.
type ClientMessage struct {
	Text            string `json:"text"`
	User            string `json:"user,omitempty"`
	UserID          string `json:"userId,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated,omitempty"`
}

type ChatData struct {
	Room    string        `json:"room"`
	Message ClientMessage `json:"message"`
}

type SetHostData struct {
	Room         string `json:"room"`
	PersistentID string `json:"persistentId"`
}
