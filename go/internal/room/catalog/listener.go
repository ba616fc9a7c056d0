// Package catalog relays durable room catalog changes from Postgres to
// connected clients so that lobbies refresh when rooms are created or
// removed by another process.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL  string
	Channel      string
	PingInterval time.Duration
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

func DefaultConfig() Config {
	return Config{
		Channel:      "study_room_catalog",
		PingInterval: 90 * time.Second,
		MinReconnect: 10 * time.Second,
		MaxReconnect: time.Minute,
	}
}

// Notifier is the subset of the connection layer the listener needs.
type Notifier interface {
	BroadcastGlobal(kind room.EventKind, payload interface{})
}

type Listener struct {
	config Config
	clock  clockwork.Clock
	out    Notifier
}

func NewListener(config Config, clock clockwork.Clock, out Notifier) *Listener {
	return &Listener{config: config, clock: clock, out: out}
}

// Start listens until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	pl := pq.NewListener(l.config.DatabaseURL, l.config.MinReconnect, l.config.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Int("event", int(ev)).Msg("catalog listener event")
			}
		})
	defer pl.Close()

	if err := pl.Listen(l.config.Channel); err != nil {
		return fmt.Errorf("listen on %s: %w", l.config.Channel, err)
	}
	log.Info().Str("channel", l.config.Channel).Msg("listening for room catalog changes")

	return l.run(ctx, pl.Notify, pl.Ping)
}

func (l *Listener) run(ctx context.Context, notify <-chan *pq.Notification, ping func() error) error {
	ticker := l.clock.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notify:
			if !ok {
				return fmt.Errorf("catalog notification channel closed")
			}
			// nil after a reconnect; changes during the gap are lost
			if n == nil {
				l.out.BroadcastGlobal(room.EventRoomListChanged, room.RoomListChangedPayload{})
				continue
			}
			log.Debug().Str("room", n.Extra).Msg("room catalog changed")
			l.out.BroadcastGlobal(room.EventRoomListChanged, room.RoomListChangedPayload{Room: n.Extra})
		case <-ticker.Chan():
			if err := ping(); err != nil {
				log.Warn().Err(err).Msg("catalog listener ping failed")
			}
		}
	}
}
