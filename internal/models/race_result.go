package models

import "time"

// Standing is one finisher's line in a race result.
type Standing struct {
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName"`
	Position      int       `json:"position"`
	FinalWPM      float64   `json:"finalWpm"`
	FinalAccuracy float64   `json:"finalAccuracy"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// RaceResult is the record handed to the profile/achievement collaborators
// once a race is over.
type RaceResult struct {
	LobbyID       string     `json:"lobbyId"`
	TextSnippetID string     `json:"textSnippetId"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    time.Time  `json:"finishedAt"`
	Standings     []Standing `json:"standings"`
}

// NewRaceResult builds the result record of a finished lobby.
func NewRaceResult(l *Lobby) RaceResult {
	r := RaceResult{
		LobbyID:       l.ID,
		TextSnippetID: l.TextSnippetID,
		Standings:     l.Standings(),
	}
	if l.StartedAt != nil {
		r.StartedAt = *l.StartedAt
	}
	if l.FinishedAt != nil {
		r.FinishedAt = *l.FinishedAt
	}
	return r
}
