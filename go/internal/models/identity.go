package models

// Identity is who a connection speaks for. Verified identities carry a
// PersistentID that survives reconnects; anonymous ones are known only by
// their ConnectionID.
type Identity struct {
	PersistentID string `json:"persistentId,omitempty"`
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Email        string `json:"email,omitempty"`
	IsVerified   bool   `json:"isVerified"`
}

// Key returns the canonical membership key. Verified and anonymous keys
// never collide.
func (i Identity) Key() string {
	if i.IsVerified && i.PersistentID != "" {
		return "user:" + i.PersistentID
	}
	return "conn:" + i.ConnectionID
}

// HostID returns the id stored when this identity holds a room.
func (i Identity) HostID() string {
	if i.IsVerified && i.PersistentID != "" {
		return i.PersistentID
	}
	return i.ConnectionID
}
