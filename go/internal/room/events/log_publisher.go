package events

import (
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/rs/zerolog/log"
)

// LogPublisher writes activity to the debug log. It stands in when no
// NATS server is configured.
type LogPublisher struct{}

func (LogPublisher) PublishActivity(a room.Activity) {
	log.Debug().
		Str("room", a.Room).
		Str("event_type", string(a.Kind)).
		Interface("payload", a.Payload).
		Msg("room activity")
}
