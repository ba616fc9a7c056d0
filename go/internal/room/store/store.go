package store

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/studysync/go/internal/models"
)

// ErrNotFound is returned by GetRoom when no record exists.
var ErrNotFound = errors.New("room not found")

// Store is the durable side of the engine. Implementations must be safe for
// concurrent use.
type Store interface {
	GetRoom(ctx context.Context, name string) (*models.Room, error)
	SaveRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, name string) error

	// UpdateMembers writes the engine-owned fields of an existing room in one
	// atomic step. It returns ErrNotFound, and writes nothing, when the room
	// does not exist.
	UpdateMembers(ctx context.Context, name, hostID string, members []models.RoomMember, at time.Time) error

	// GetMessages returns at most limit messages, oldest first. limit <= 0
	// returns everything.
	GetMessages(ctx context.Context, room string, limit int) ([]models.Message, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	DeleteMessages(ctx context.Context, room string) error
}

func tail(msgs []models.Message, limit int) []models.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// IsNotFound reports whether err means the room does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
