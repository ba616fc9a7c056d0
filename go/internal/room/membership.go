package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/rs/zerolog/log"
)

const replacedReason = "You joined this room from another connection"

// JoinRequest carries a join after the persisted room has been looked up.
// Record is nil when no persisted room exists.
type JoinRequest struct {
	Room        string
	Identity    models.Identity
	DisplayName string
	AsHost      bool
	Record      *models.Room
}

// JoinResult is what the joining connection learns. Replaced lists other
// connections of the same identity that were dropped from the room.
type JoinResult struct {
	IsHost   bool
	HostID   string
	Members  []MemberView
	Timer    *TimerState
	Replaced []string
}

// Join adds the identity to the room, replacing any earlier member with the
// same identity key or connection.
func (r *Registry) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	var (
		res    JoinResult
		result error
	)
	err := r.do(ctx, func() {
		res, result = r.join(req)
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, result
}

func (r *Registry) join(req JoinRequest) (JoinResult, error) {
	if req.Record == nil {
		return JoinResult{}, ErrRoomNotFound
	}
	if !req.Record.Allows(req.Identity) {
		return JoinResult{}, ErrNotAllowed
	}

	id := req.Identity
	lr := r.rooms[req.Room]
	if lr == nil {
		lr = &liveRoom{name: req.Room}
		r.rooms[req.Room] = lr
	}

	key := id.Key()
	var replaced []string
	lr.removeWhere(func(m *Member) bool {
		if m.ConnectionID == id.ConnectionID {
			return true
		}
		if m.key == key {
			replaced = append(replaced, m.ConnectionID)
			return true
		}
		return false
	})
	for _, c := range replaced {
		r.out.SendTo(c, req.Room, EventSessionEnded, SessionEndedPayload{
			Reason: replacedReason,
			HostID: lr.hostID,
		})
		r.out.Unsubscribe(req.Room, c)
	}

	name := id.DisplayName
	if !id.IsVerified {
		if requested := strings.TrimSpace(req.DisplayName); requested != "" {
			name = requested
		}
	}
	lr.members = append(lr.members, &Member{
		ConnectionID: id.ConnectionID,
		PersistentID: id.PersistentID,
		DisplayName:  name,
		IsVerified:   id.IsVerified,
		JoinedAt:     r.clock.Now(),
		key:          key,
	})
	r.out.Subscribe(req.Room, id.ConnectionID)

	previousHost := lr.hostID
	switch {
	case req.AsHost:
		lr.hostID = id.HostID()
	case lr.hostID != "":
	case req.Record.HostID != "":
		lr.hostID = req.Record.HostID
	case len(lr.members) == 1:
		lr.hostID = id.HostID()
	default:
		lr.hostID = lr.members[0].hostID()
	}

	r.persistMembers(lr)

	isHost := lr.hostID == id.HostID()
	views := lr.views()
	r.out.SendTo(id.ConnectionID, req.Room, EventHostStatus, HostStatusPayload{IsHost: isHost})
	if previousHost != "" && previousHost != lr.hostID {
		r.notifyHost(lr, previousHost, false)
	}
	r.out.BroadcastToRoom(req.Room, EventMembersUpdated, views)
	if lr.timer != nil {
		r.out.SendTo(id.ConnectionID, req.Room, EventTimerUpdated, *lr.timer)
	}
	r.out.BroadcastGlobal(EventRoomListChanged, RoomListChangedPayload{Room: req.Room})
	r.publish(ActivityMemberJoined, req.Room, views[len(views)-1])

	log.Info().
		Str("room", req.Room).
		Str("connection_id", id.ConnectionID).
		Str("persistent_id", id.PersistentID).
		Bool("is_host", isHost).
		Int("members", len(lr.members)).
		Msg("member joined room")

	res := JoinResult{IsHost: isHost, HostID: lr.hostID, Members: views, Replaced: replaced}
	if lr.timer != nil {
		t := *lr.timer
		res.Timer = &t
	}
	return res, nil
}

// notifyHost sends hostStatus to every connection speaking for hostID.
func (r *Registry) notifyHost(lr *liveRoom, hostID string, isHost bool) {
	for _, m := range lr.members {
		if m.hostID() == hostID {
			r.out.SendTo(m.ConnectionID, lr.name, EventHostStatus, HostStatusPayload{IsHost: isHost})
		}
	}
}

// Leave removes the connection from one room.
func (r *Registry) Leave(ctx context.Context, room, connectionID string) error {
	return r.do(ctx, func() {
		if lr := r.rooms[room]; lr != nil {
			r.removeConnection(lr, connectionID)
			return
		}
		r.out.Unsubscribe(room, connectionID)
	})
}

// Disconnect removes the connection from every room it is in and returns
// the affected room names.
func (r *Registry) Disconnect(ctx context.Context, connectionID string) ([]string, error) {
	var affected []string
	err := r.do(ctx, func() {
		for _, lr := range r.rooms {
			if lr.hasConnection(connectionID) || contains(r.out.RoomConnections(lr.name), connectionID) {
				affected = append(affected, lr.name)
			}
		}
		for _, name := range affected {
			r.removeConnection(r.rooms[name], connectionID)
		}
	})
	return affected, err
}

func (r *Registry) removeConnection(lr *liveRoom, connectionID string) {
	removed := lr.removeWhere(func(m *Member) bool { return m.ConnectionID == connectionID })
	r.out.Unsubscribe(lr.name, connectionID)

	if len(lr.members) == 0 || len(r.out.RoomConnections(lr.name)) == 0 {
		r.teardown(lr)
		r.out.BroadcastGlobal(EventRoomListChanged, RoomListChangedPayload{Room: lr.name})
		return
	}
	if removed == 0 {
		return
	}

	r.out.BroadcastToRoom(lr.name, EventMembersUpdated, lr.views())
	r.persistMembers(lr)
	r.out.BroadcastGlobal(EventRoomListChanged, RoomListChangedPayload{Room: lr.name})
	r.publish(ActivityMemberLeft, lr.name, map[string]string{"connectionId": connectionID})

	log.Info().
		Str("room", lr.name).
		Str("connection_id", connectionID).
		Int("members", len(lr.members)).
		Msg("member left room")
}

// SetHostRequest reassigns the host. Record is the persisted room, used to
// confirm a verified member reclaiming a room it already owns.
type SetHostRequest struct {
	Room         string
	Requester    models.Identity
	PersistentID string
	Record       *models.Room
}

// SetHost makes PersistentID (or the requester, if empty) the host. The
// current host may hand over; anyone may claim a host-less room; a verified
// member may reclaim a room whose persisted host is itself.
func (r *Registry) SetHost(ctx context.Context, req SetHostRequest) error {
	var result error
	err := r.do(ctx, func() {
		result = r.setHost(req)
	})
	if err != nil {
		return err
	}
	return result
}

func (r *Registry) setHost(req SetHostRequest) error {
	lr := r.rooms[req.Room]
	if lr == nil {
		return ErrRoomNotFound
	}

	target := req.PersistentID
	if target == "" {
		target = req.Requester.HostID()
	}
	reclaim := req.Requester.IsVerified &&
		req.Requester.PersistentID == target &&
		req.Record != nil && req.Record.HostID == target
	if lr.hostID != "" && lr.hostID != req.Requester.HostID() && !reclaim {
		return ErrNotHost
	}
	if lr.hostID == target {
		return nil
	}

	previous := lr.hostID
	lr.hostID = target
	r.persistMembers(lr)

	if previous != "" {
		r.notifyHost(lr, previous, false)
	}
	r.notifyHost(lr, target, true)
	r.out.BroadcastToRoom(lr.name, EventMembersUpdated, lr.views())
	r.out.BroadcastGlobal(EventRoomListChanged, RoomListChangedPayload{Room: lr.name})
	r.publish(ActivityHostChanged, lr.name, map[string]string{"previous": previous, "hostId": target})

	log.Info().
		Str("room", lr.name).
		Str("previous_host", previous).
		Str("host_id", target).
		Msg("room host changed")
	return nil
}

// EndResult lists the connections that were dropped from the room.
type EndResult struct {
	Connections []string
}

// EndSession closes the room for everyone. Only the host may do it; record
// is consulted when the room has no live host.
func (r *Registry) EndSession(ctx context.Context, room string, requester models.Identity, record *models.Room) (EndResult, error) {
	var (
		res    EndResult
		result error
	)
	err := r.do(ctx, func() {
		res, result = r.endSession(room, requester, record)
	})
	if err != nil {
		return EndResult{}, err
	}
	return res, result
}

func (r *Registry) endSession(room string, requester models.Identity, record *models.Room) (EndResult, error) {
	lr := r.rooms[room]
	if lr == nil && record == nil {
		return EndResult{}, ErrRoomNotFound
	}

	hostID := ""
	if lr != nil {
		hostID = lr.hostID
	}
	if hostID == "" && record != nil {
		hostID = record.HostID
	}
	if hostID == "" || requester.HostID() != hostID {
		return EndResult{}, ErrNotHost
	}

	var res EndResult
	if lr != nil {
		r.stopTask(lr)
		res.Connections = r.out.RoomConnections(room)
		r.out.BroadcastToRoom(room, EventSessionEnded, SessionEndedPayload{
			Reason: fmt.Sprintf("%s has ended this study session", hostName(lr, requester)),
			HostID: hostID,
		})
		for _, c := range res.Connections {
			r.out.Unsubscribe(room, c)
		}
		delete(r.rooms, room)
	}
	r.persist.PurgeRoom(room)
	r.out.BroadcastGlobal(EventRoomListChanged, RoomListChangedPayload{Room: room})
	r.publish(ActivitySessionEnded, room, map[string]string{"hostId": hostID})

	log.Info().
		Str("room", room).
		Str("host_id", hostID).
		Int("connections", len(res.Connections)).
		Msg("study session ended")
	return res, nil
}

func hostName(lr *liveRoom, requester models.Identity) string {
	for _, m := range lr.members {
		if m.ConnectionID == requester.ConnectionID {
			return m.DisplayName
		}
	}
	return requester.DisplayName
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
