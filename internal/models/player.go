package models

import "time"

// Player is one member of a lobby, keyed by UserID within it.
type Player struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	IsHost   bool      `json:"isHost"`
	IsReady  bool      `json:"isReady"`
	JoinedAt time.Time `json:"joinedAt"`

	// live telemetry, only meaningful while the race runs
	Progress float64 `json:"progress"`
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`

	// write-once finish fields
	HasFinished   bool       `json:"hasFinished"`
	FinalWPM      *float64   `json:"finalWpm,omitempty"`
	FinalAccuracy *float64   `json:"finalAccuracy,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Position      *int       `json:"position,omitempty"`
}

// Clone returns a deep copy of the player.
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	c := *p
	if p.FinalWPM != nil {
		v := *p.FinalWPM
		c.FinalWPM = &v
	}
	if p.FinalAccuracy != nil {
		v := *p.FinalAccuracy
		c.FinalAccuracy = &v
	}
	if p.Position != nil {
		v := *p.Position
		c.Position = &v
	}
	c.FinishedAt = cloneTime(p.FinishedAt)
	return &c
}

// ResetRace puts the player back to the start line.
func (p *Player) ResetRace() {
	p.IsReady = false
	p.Progress = 0
	p.WPM = 0
	p.Accuracy = 0
	p.HasFinished = false
	p.FinalWPM = nil
	p.FinalAccuracy = nil
	p.FinishedAt = nil
	p.Position = nil
}
