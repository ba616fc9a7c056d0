package inspect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/studysync/go/internal/room"
)

type fakeRooms struct {
	rooms []room.RoomSnapshot
	err   error
}

func (f fakeRooms) Snapshot(context.Context) ([]room.RoomSnapshot, error) {
	return f.rooms, f.err
}

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

func newClient(t *testing.T, svc *Service) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(NewHandler(svc))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL)
}

func TestListLiveRooms(t *testing.T) {
	rooms := fakeRooms{rooms: []room.RoomSnapshot{
		{
			Name:   "calc-2",
			HostID: "user-1",
			Members: []room.MemberView{
				{ConnectionID: "c1", PersistentID: "user-1", DisplayName: "Ada", IsVerified: true, IsHost: true},
			},
			Timer: &room.TimerState{Running: true, RemainingSeconds: 1500, Label: "Focus"},
		},
	}}
	client := newClient(t, NewService(rooms, fakeStats{}))

	res, err := client.ListLiveRooms(context.Background())
	if err != nil {
		t.Fatalf("ListLiveRooms: %v", err)
	}
	got := res.AsMap()
	if got["count"] != float64(1) {
		t.Errorf("count = %v", got["count"])
	}

	list := got["rooms"].([]interface{})
	first := list[0].(map[string]interface{})
	if first["name"] != "calc-2" || first["hostId"] != "user-1" {
		t.Errorf("room = %v", first)
	}
	timer := first["timer"].(map[string]interface{})
	if diff := cmp.Diff(map[string]interface{}{
		"running":          true,
		"remainingSeconds": float64(1500),
		"label":            "Focus",
	}, timer); diff != "" {
		t.Errorf("timer mismatch (-want +got):\n%s", diff)
	}
}

func TestListLiveRoomsUnavailable(t *testing.T) {
	client := newClient(t, NewService(fakeRooms{err: room.ErrRegistryClosed}, fakeStats{}))

	_, err := client.ListLiveRooms(context.Background())
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a connect error, got %v", err)
	}
	if cerr.Code() != connect.CodeUnavailable {
		t.Errorf("code = %v", cerr.Code())
	}
}

func TestGetConnectionStats(t *testing.T) {
	stats := fakeStats{
		"total_connections": 3,
		"active_rooms":      1,
		"room_connections":  map[string]int{"calc-2": 3},
	}
	client := newClient(t, NewService(fakeRooms{}, stats))

	res, err := client.GetConnectionStats(context.Background())
	if err != nil {
		t.Fatalf("GetConnectionStats: %v", err)
	}
	want := map[string]interface{}{
		"total_connections": float64(3),
		"active_rooms":      float64(1),
		"room_connections":  map[string]interface{}{"calc-2": float64(3)},
	}
	if diff := cmp.Diff(want, res.AsMap()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
