// internal/models/lobby.go
package models

import (
	"sort"
	"time"
)

// LobbyStatus is the race phase of a lobby. It only ever moves forward:
// waiting -> in_game -> finished.
type LobbyStatus string

const (
	StatusWaiting  LobbyStatus = "waiting"
	StatusInGame   LobbyStatus = "in_game"
	StatusFinished LobbyStatus = "finished"
)

// Lobby is the full snapshot of one race. It is the unit of storage and of
// concurrency control; the JSON field names are the persisted format.
type Lobby struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	HostID     string      `json:"hostId"`
	HostName   string      `json:"hostName"`
	MaxPlayers int         `json:"maxPlayers"`
	Players    []*Player   `json:"players"`
	Status     LobbyStatus `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	TextSnippetID string        `json:"textSnippetId,omitempty"`
	ChatMessages  []ChatMessage `json:"chatMessages"`

	HasPassword bool `json:"hasPassword"`
	// PasswordHash is an argon2id encoded hash. Never sent to clients, see Public.
	PasswordHash string `json:"passwordHash,omitempty"`

	// FinishCount is the number of finish positions handed out in this race.
	FinishCount int `json:"finishCount"`
	// Version increments on every stored write.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the lobby.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	c := *l
	c.StartedAt = cloneTime(l.StartedAt)
	c.FinishedAt = cloneTime(l.FinishedAt)
	c.Players = make([]*Player, len(l.Players))
	for i, p := range l.Players {
		c.Players[i] = p.Clone()
	}
	c.ChatMessages = make([]ChatMessage, len(l.ChatMessages))
	copy(c.ChatMessages, l.ChatMessages)
	return &c
}

// Public returns a copy safe to hand to clients.
func (l *Lobby) Public() *Lobby {
	c := l.Clone()
	if c != nil {
		c.PasswordHash = ""
	}
	return c
}

// Player returns the member with the given user id, or nil.
func (l *Lobby) Player(userID string) *Player {
	for _, p := range l.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Host returns the current host, or nil for an empty lobby.
func (l *Lobby) Host() *Player {
	for _, p := range l.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// IsFull reports whether no further players can join.
func (l *Lobby) IsFull() bool {
	return len(l.Players) >= l.MaxPlayers
}

// AllFinished reports whether every member has finished. False for an empty lobby.
func (l *Lobby) AllFinished() bool {
	if len(l.Players) == 0 {
		return false
	}
	for _, p := range l.Players {
		if !p.HasFinished {
			return false
		}
	}
	return true
}

// Standings lists finished players ordered by position. Positions are
// unique but may skip numbers when a finisher left before the race ended.
func (l *Lobby) Standings() []Standing {
	out := make([]Standing, 0, len(l.Players))
	for _, p := range l.Players {
		if !p.HasFinished || p.Position == nil {
			continue
		}
		s := Standing{
			UserID:   p.UserID,
			UserName: p.UserName,
			Position: *p.Position,
		}
		if p.FinalWPM != nil {
			s.FinalWPM = *p.FinalWPM
		}
		if p.FinalAccuracy != nil {
			s.FinalAccuracy = *p.FinalAccuracy
		}
		if p.FinishedAt != nil {
			s.FinishedAt = *p.FinishedAt
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
