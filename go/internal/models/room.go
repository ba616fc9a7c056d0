package models

import "time"

// RoomMember is the persisted shadow of a live member.
type RoomMember struct {
	ConnectionID string    `json:"connectionId"`
	PersistentID string    `json:"persistentId,omitempty"`
	DisplayName  string    `json:"displayName"`
	IsVerified   bool      `json:"isVerified"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Room is the durable record of a study room. The HTTP surface creates it,
// the coordination engine keeps HostID, Members and LastActive current.
type Room struct {
	Name              string       `json:"name"`
	HostID            string       `json:"hostId,omitempty"`
	Members           []RoomMember `json:"members"`
	IsPublic          bool         `json:"isPublic"`
	CredentialHash    *string      `json:"credentialHash,omitempty"`
	AllowedIdentities []string     `json:"allowedIdentities,omitempty"`
	LastActive        time.Time    `json:"lastActive"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// Allows reports whether a private room admits the identity. Entries in the
// allow-list may be persistent ids or email addresses.
func (r *Room) Allows(id Identity) bool {
	if r.IsPublic {
		return true
	}
	for _, allowed := range r.AllowedIdentities {
		if allowed == "" {
			continue
		}
		if id.PersistentID != "" && allowed == id.PersistentID {
			return true
		}
		if id.Email != "" && allowed == id.Email {
			return true
		}
	}
	return false
}
