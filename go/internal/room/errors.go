package room

import "errors"

var (
	// ErrRoomNotFound means no persisted room exists for the name.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotAllowed means a private room's allow-list excludes the identity.
	ErrNotAllowed = errors.New("not allowed to join this room")
	// ErrNotHost means a host-only command came from someone else. Callers
	// drop these without telling the client.
	ErrNotHost = errors.New("requester is not the room host")
	// ErrRegistryClosed is returned once Run has exited.
	ErrRegistryClosed = errors.New("room registry stopped")
)
