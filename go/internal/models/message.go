package models

import "time"

// Message is a single chat line. Messages are append-only.
type Message struct {
	ID                string    `json:"id"`
	Room              string    `json:"room"`
	AuthorDisplayName string    `json:"user"`
	AuthorID          string    `json:"userId,omitempty"`
	Text              string    `json:"text"`
	IsVerified        bool      `json:"isAuthenticated"`
	CreatedAt         time.Time `json:"createdAt"`
}
