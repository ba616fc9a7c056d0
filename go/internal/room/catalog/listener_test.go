package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/studysync/go/internal/room"
)

type recorder struct {
	mu    sync.Mutex
	rooms []string
	seen  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 16)}
}

func (r *recorder) BroadcastGlobal(kind room.EventKind, payload interface{}) {
	if kind != room.EventRoomListChanged {
		return
	}
	r.mu.Lock()
	r.rooms = append(r.rooms, payload.(room.RoomListChangedPayload).Room)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d notifications", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rooms...)
}

func TestListenerRelaysNotifications(t *testing.T) {
	out := newRecorder()
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	l := NewListener(cfg, clockwork.NewFakeClock(), out)

	notify := make(chan *pq.Notification, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.run(ctx, notify, func() error { return nil }) }()

	notify <- &pq.Notification{Channel: cfg.Channel, Extra: "calc-2"}
	notify <- nil
	notify <- &pq.Notification{Channel: cfg.Channel, Extra: "bio-101"}

	got := out.wait(t, 3)
	if diff := cmp.Diff([]string{"calc-2", "", "bio-101"}, got); diff != "" {
		t.Errorf("rooms mismatch (-want +got):\n%s", diff)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run returned %v after cancel", err)
	}
}

func TestListenerStopsWhenChannelCloses(t *testing.T) {
	l := NewListener(DefaultConfig(), clockwork.NewFakeClock(), newRecorder())
	notify := make(chan *pq.Notification)
	close(notify)

	if err := l.run(context.Background(), notify, func() error { return nil }); err == nil {
		t.Fatal("expected an error when the notification channel closes")
	}
}

func TestListenerPingsAndSurvivesFailures(t *testing.T) {
	cfg := DefaultConfig()
	clock := clockwork.NewFakeClock()
	l := NewListener(cfg, clock, newRecorder())

	pings := make(chan struct{}, 8)
	ping := func() error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return errors.New("connection reset")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.run(ctx, make(chan *pq.Notification), ping) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("listener never started its ping ticker: %v", err)
	}
	select {
	case <-pings:
		t.Fatal("pinged before the interval elapsed")
	default:
	}

	for i := 0; i < 2; i++ {
		clock.Advance(cfg.PingInterval)
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not ping")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run returned %v", err)
	}
}
