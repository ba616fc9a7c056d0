package room

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds registry settings.
type Config struct {
	TickInterval time.Duration
	QueueSize    int
}

// DefaultConfig returns a one second tick and a generous command queue.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		QueueSize:    1024,
	}
}

// Member is a connection's presence in a live room.
type Member struct {
	ConnectionID string
	PersistentID string
	DisplayName  string
	IsVerified   bool
	JoinedAt     time.Time

	key string
}

func (m *Member) hostID() string {
	if m.IsVerified && m.PersistentID != "" {
		return m.PersistentID
	}
	return m.ConnectionID
}

type liveRoom struct {
	name    string
	hostID  string
	members []*Member
	timer   *TimerState
	task    *tickTask
}

func (lr *liveRoom) removeWhere(match func(*Member) bool) int {
	kept := lr.members[:0]
	removed := 0
	for _, m := range lr.members {
		if match(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(lr.members); i++ {
		lr.members[i] = nil
	}
	lr.members = kept
	return removed
}

func (lr *liveRoom) hasConnection(connectionID string) bool {
	for _, m := range lr.members {
		if m.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

func (lr *liveRoom) views() []MemberView {
	out := make([]MemberView, 0, len(lr.members))
	for _, m := range lr.members {
		out = append(out, MemberView{
			ConnectionID: m.ConnectionID,
			PersistentID: m.PersistentID,
			DisplayName:  m.DisplayName,
			IsVerified:   m.IsVerified,
			IsHost:       lr.hostID != "" && m.hostID() == lr.hostID,
			JoinedAt:     m.JoinedAt,
		})
	}
	return out
}

func (lr *liveRoom) records() []models.RoomMember {
	out := make([]models.RoomMember, 0, len(lr.members))
	for _, m := range lr.members {
		out = append(out, models.RoomMember{
			ConnectionID: m.ConnectionID,
			PersistentID: m.PersistentID,
			DisplayName:  m.DisplayName,
			IsVerified:   m.IsVerified,
			JoinedAt:     m.JoinedAt,
		})
	}
	return out
}

// Registry owns every live room. All state is touched only by the goroutine
// running Run; exported methods submit a step and wait for it.
type Registry struct {
	cfg      Config
	clock    clockwork.Clock
	out      Broadcaster
	persist  Persister
	activity ActivityPublisher

	cmds    chan func()
	stopped chan struct{}
	runCtx  context.Context

	rooms   map[string]*liveRoom
	taskSeq uint64
}

// NewRegistry creates a registry. activity may be nil.
func NewRegistry(cfg Config, clock clockwork.Clock, out Broadcaster, persist Persister, activity ActivityPublisher) *Registry {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if activity == nil {
		activity = nopActivity{}
	}
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		out:      out,
		persist:  persist,
		activity: activity,
		cmds:     make(chan func(), cfg.QueueSize),
		stopped:  make(chan struct{}),
		rooms:    make(map[string]*liveRoom),
	}
}

// Run executes submitted steps one at a time until ctx is done. Running
// timers are cancelled on exit.
func (r *Registry) Run(ctx context.Context) error {
	r.runCtx = ctx
	log.Info().Msg("room registry started")

	defer func() {
		for _, lr := range r.rooms {
			r.stopTask(lr)
		}
		close(r.stopped)
		log.Info().Int("live_rooms", len(r.rooms)).Msg("room registry stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case step := <-r.cmds:
			step()
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (r *Registry) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	step := func() {
		defer close(done)
		fn()
	}

	select {
	case r.cmds <- step:
	case <-r.stopped:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-r.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrRegistryClosed
		}
	}
}

// post queues fn without waiting for it.
func (r *Registry) post(ctx context.Context, fn func()) {
	select {
	case r.cmds <- fn:
	case <-ctx.Done():
	case <-r.stopped:
	}
}

func (r *Registry) publish(kind ActivityKind, room string, payload interface{}) {
	r.activity.PublishActivity(Activity{Kind: kind, Room: room, At: r.clock.Now(), Payload: payload})
}

func (r *Registry) persistMembers(lr *liveRoom) {
	r.persist.SaveMembers(lr.name, lr.hostID, lr.records(), r.clock.Now())
}

// teardown drops a room whose last member or socket went away. No socket
// stays subscribed to a room that is not live.
func (r *Registry) teardown(lr *liveRoom) {
	r.stopTask(lr)
	delete(r.rooms, lr.name)
	for _, c := range r.out.RoomConnections(lr.name) {
		r.out.Unsubscribe(lr.name, c)
	}
	r.persist.SaveMembers(lr.name, lr.hostID, []models.RoomMember{}, r.clock.Now())
	r.publish(ActivityRoomClosed, lr.name, nil)

	log.Info().Str("room", lr.name).Msg("room emptied, live state released")
}

// RoomSnapshot is a read-only copy of a live room.
type RoomSnapshot struct {
	Name    string       `json:"name"`
	HostID  string       `json:"hostId"`
	Members []MemberView `json:"members"`
	Timer   *TimerState  `json:"timer,omitempty"`
}

func (lr *liveRoom) snapshot() RoomSnapshot {
	s := RoomSnapshot{Name: lr.name, HostID: lr.hostID, Members: lr.views()}
	if lr.timer != nil {
		t := *lr.timer
		s.Timer = &t
	}
	return s
}

// Snapshot returns every live room.
func (r *Registry) Snapshot(ctx context.Context) ([]RoomSnapshot, error) {
	var out []RoomSnapshot
	err := r.do(ctx, func() {
		out = make([]RoomSnapshot, 0, len(r.rooms))
		for _, lr := range r.rooms {
			out = append(out, lr.snapshot())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	})
	return out, err
}

// Room returns one live room, or false if it is not live.
func (r *Registry) Room(ctx context.Context, name string) (RoomSnapshot, bool, error) {
	var (
		out RoomSnapshot
		ok  bool
	)
	err := r.do(ctx, func() {
		if lr := r.rooms[name]; lr != nil {
			out, ok = lr.snapshot(), true
		}
	})
	return out, ok, err
}

// Members returns the live member list. Unknown rooms have no members.
func (r *Registry) Members(ctx context.Context, name string) ([]MemberView, error) {
	out := []MemberView{}
	err := r.do(ctx, func() {
		if lr := r.rooms[name]; lr != nil {
			out = lr.views()
		}
	})
	return out, err
}
