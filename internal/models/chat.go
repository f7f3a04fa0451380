package models

import "time"

// ChatMessage is an immutable entry in a lobby's chat window.
type ChatMessage struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
