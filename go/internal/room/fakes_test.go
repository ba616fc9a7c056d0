package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
)

type frame struct {
	To      string // connection id, empty for room or global frames
	Room    string
	Kind    EventKind
	Payload interface{}
	Global  bool
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[string]bool
	frames []frame
	timers chan TimerState
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		subs:   make(map[string]map[string]bool),
		timers: make(chan TimerState, 4096),
	}
}

func (f *fakeBroadcaster) BroadcastToRoom(room string, kind EventKind, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{Room: room, Kind: kind, Payload: payload})
	if kind == EventTimerUpdated {
		f.timers <- payload.(TimerState)
	}
}

func (f *fakeBroadcaster) BroadcastGlobal(kind EventKind, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{Kind: kind, Payload: payload, Global: true})
}

func (f *fakeBroadcaster) SendTo(connectionID, room string, kind EventKind, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{To: connectionID, Room: room, Kind: kind, Payload: payload})
}

func (f *fakeBroadcaster) Subscribe(room, connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[room] == nil {
		f.subs[room] = make(map[string]bool)
	}
	f.subs[room][connectionID] = true
}

func (f *fakeBroadcaster) Unsubscribe(room, connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[room], connectionID)
	if len(f.subs[room]) == 0 {
		delete(f.subs, room)
	}
}

func (f *fakeBroadcaster) RoomConnections(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs[room]))
	for c := range f.subs[room] {
		out = append(out, c)
	}
	return out
}

// take returns and clears the recorded frames of the given kind.
func (f *fakeBroadcaster) take(kind EventKind) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out, rest []frame
	for _, fr := range f.frames {
		if fr.Kind == kind {
			out = append(out, fr)
		} else {
			rest = append(rest, fr)
		}
	}
	f.frames = rest
	return out
}

func (f *fakeBroadcaster) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
	for {
		select {
		case <-f.timers:
		default:
			return
		}
	}
}

type savedMembers struct {
	Room    string
	HostID  string
	Members []models.RoomMember
}

type fakePersister struct {
	mu     sync.Mutex
	saves  []savedMembers
	purged []string
}

func (p *fakePersister) SaveMembers(room, hostID string, members []models.RoomMember, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, savedMembers{Room: room, HostID: hostID, Members: members})
}

func (p *fakePersister) PurgeRoom(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, room)
}

func (p *fakePersister) lastSave() savedMembers {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) == 0 {
		return savedMembers{}
	}
	return p.saves[len(p.saves)-1]
}

func (p *fakePersister) purges() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.purged...)
}

type harness struct {
	reg   *Registry
	out   *fakeBroadcaster
	store *fakePersister
	clock *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		out:   newFakeBroadcaster(),
		store: &fakePersister{},
		clock: clockwork.NewFakeClock(),
	}
	h.reg = NewRegistry(DefaultConfig(), h.clock, h.out, h.store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func verified(id, conn, name string) models.Identity {
	return models.Identity{PersistentID: id, ConnectionID: conn, DisplayName: name, IsVerified: true}
}

func anon(conn, name string) models.Identity {
	return models.Identity{ConnectionID: conn, DisplayName: name}
}

func publicRoom(name string) *models.Room {
	return &models.Room{Name: name, IsPublic: true}
}

func (h *harness) join(t *testing.T, room string, id models.Identity, asHost bool, rec *models.Room) JoinResult {
	t.Helper()
	res, err := h.reg.Join(context.Background(), JoinRequest{Room: room, Identity: id, AsHost: asHost, Record: rec})
	if err != nil {
		t.Fatalf("Join(%s, %s): %v", room, id.ConnectionID, err)
	}
	return res
}

// nextTimer waits for the next timer.updated frame.
func (h *harness) nextTimer(t *testing.T) TimerState {
	t.Helper()
	select {
	case s := <-h.out.timers:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for timer.updated")
		return TimerState{}
	}
}

// sync waits until every step queued so far has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	if _, err := h.reg.Members(context.Background(), ""); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func (h *harness) noTimerFrames(t *testing.T) {
	t.Helper()
	h.sync(t)
	select {
	case s := <-h.out.timers:
		t.Fatalf("unexpected timer.updated %+v", s)
	default:
	}
}
