package models

import "github.com/google/uuid"

// User is the subset of a profile row the lobby service reads.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"isEphemeral"`
	IsAdmin     bool `json:"isAdmin"`
}
