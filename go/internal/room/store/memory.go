package store

import (
	"context"
	"sync"
	"time"

	"github.com/mcdev12/studysync/go/internal/models"
)

// Memory keeps rooms and messages in process. It backs tests and the
// single-node "memory" driver.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]models.Room
	messages map[string][]models.Message
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]models.Room),
		messages: make(map[string][]models.Message),
	}
}

func (m *Memory) GetRoom(ctx context.Context, name string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *Memory) SaveRoom(ctx context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.Name] = *cloneRoom(*room)
	return nil
}

func (m *Memory) UpdateMembers(ctx context.Context, name, hostID string, members []models.RoomMember, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[name]
	if !ok {
		return ErrNotFound
	}
	r.HostID = hostID
	r.Members = append([]models.RoomMember(nil), members...)
	r.LastActive = at
	m.rooms[name] = r
	return nil
}

func (m *Memory) DeleteRoom(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, name)
	return nil
}

func (m *Memory) GetMessages(ctx context.Context, room string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := tail(m.messages[room], limit)
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Memory) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.Room] = append(m.messages[msg.Room], *msg)
	return nil
}

func (m *Memory) DeleteMessages(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, room)
	return nil
}

func cloneRoom(r models.Room) *models.Room {
	out := r
	out.Members = append([]models.RoomMember(nil), r.Members...)
	out.AllowedIdentities = append([]string(nil), r.AllowedIdentities...)
	if r.CredentialHash != nil {
		h := *r.CredentialHash
		out.CredentialHash = &h
	}
	return &out
}
