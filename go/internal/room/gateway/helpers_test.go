package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/mcdev12/studysync/go/internal/room/store"
)

type received struct {
	ID   string          `json:"id"`
	Type room.EventKind  `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

func decodeFrame(t *testing.T, raw []byte) received {
	t.Helper()
	var r received
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return r
}

// drain returns every frame currently buffered for conn.
func drain(t *testing.T, conn *Connection) []received {
	t.Helper()
	var out []received
	for {
		select {
		case raw, ok := <-conn.Send:
			if !ok {
				return out
			}
			out = append(out, decodeFrame(t, raw))
		default:
			return out
		}
	}
}

func ofType(frames []received, kind room.EventKind) []received {
	var out []received
	for _, f := range frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

type testEnv struct {
	cm         *ConnectionManager
	registry   *room.Registry
	controller *Controller
	mem        *store.Memory
	writer     *store.Writer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	mem := store.NewMemory()
	writer := store.NewWriter(mem, store.WriterConfig{Workers: 2, QueueSize: 64})
	cm := NewConnectionManager(DefaultConnectionConfig(), clock)
	registry := room.NewRegistry(room.DefaultConfig(), clock, cm, writer, nil)
	controller := NewController(registry, mem, writer, cm, clock, 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = registry.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		writer.Close()
	})

	return &testEnv{cm: cm, registry: registry, controller: controller, mem: mem, writer: writer}
}

func (e *testEnv) addRoom(t *testing.T, r models.Room) {
	t.Helper()
	if err := e.mem.SaveRoom(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) connect(id models.Identity) (*Connection, *Session) {
	conn := e.cm.NewConnection(id.ConnectionID, id, nil)
	e.cm.Register(conn)
	e.controller.Open(conn)
	s, _ := e.controller.Session(conn.ID)
	return conn, s
}

func (e *testEnv) send(t *testing.T, conn *Connection, typ InboundType, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(Inbound{Type: typ, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	e.controller.Handle(context.Background(), conn, frame)
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.writer.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func verifiedID(id, conn, name string) models.Identity {
	return models.Identity{PersistentID: id, ConnectionID: conn, DisplayName: name, IsVerified: true}
}

func anonID(conn, name string) models.Identity {
	return models.Identity{ConnectionID: conn, DisplayName: name}
}
