// internal/lobby/machine.go
package lobby

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/jason-s-yu/typerace/internal/models"
)

const (
	// ChatCapacity is the size of the chat sliding window.
	ChatCapacity = 100
	// MaxChatLength is the longest accepted chat message, in runes.
	MaxChatLength = 500

	DefaultMaxPlayers = 5
	MaxPlayersLimit   = 20
)

// CreateParams describes a new lobby.
type CreateParams struct {
	HostID      string
	HostName    string
	Name        string
	MaxPlayers  int
	HasPassword bool
	Password    string
}

// Action is one transition of the lobby state machine.
type Action interface {
	apply(l *models.Lobby, now time.Time) error
	// Name is used in logs.
	Name() string
}

// Join adds a player. Joining twice is a successful no-op.
type Join struct {
	UserID   string
	UserName string
	Password string
}

// Leave removes a player, handing the host role on if needed.
// A lobby left with no players must be deleted by the caller.
type Leave struct {
	UserID string
}

// SetReady toggles a player's readiness while waiting.
type SetReady struct {
	UserID string
	Ready  bool
}

// StartGame begins the race. RequestedBy, when set, must be the host.
type StartGame struct {
	RequestedBy   string
	TextSnippetID string
}

// UpdateProgress overwrites a racer's live telemetry.
type UpdateProgress struct {
	UserID   string
	Progress float64
	WPM      float64
	Accuracy float64
}

// Finish records a racer crossing the line.
type Finish struct {
	UserID        string
	FinalWPM      float64
	FinalAccuracy float64
}

// AddChatMessage appends to the chat window.
type AddChatMessage struct {
	UserID   string
	UserName string
	Text     string
}

func (Join) Name() string           { return "join" }
func (Leave) Name() string          { return "leave" }
func (SetReady) Name() string       { return "set_ready" }
func (StartGame) Name() string      { return "start_game" }
func (UpdateProgress) Name() string { return "update_progress" }
func (Finish) Name() string         { return "finish" }
func (AddChatMessage) Name() string { return "chat" }

// NewLobby builds a waiting lobby with the host as its only player.
func NewLobby(id string, p CreateParams, now time.Time) (*models.Lobby, error) {
	if id == "" || p.HostID == "" {
		return nil, invalid("lobby id and host id are required")
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = DefaultMaxPlayers
	}
	if p.MaxPlayers < 1 || p.MaxPlayers > MaxPlayersLimit {
		return nil, invalid(fmt.Sprintf("maxPlayers must be between 1 and %d", MaxPlayersLimit))
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = p.HostName + "'s lobby"
	}

	l := &models.Lobby{
		ID:         id,
		Name:       name,
		HostID:     p.HostID,
		HostName:   p.HostName,
		MaxPlayers: p.MaxPlayers,
		Status:     models.StatusWaiting,
		CreatedAt:  now,
		Players: []*models.Player{{
			UserID:   p.HostID,
			UserName: p.HostName,
			IsHost:   true,
			JoinedAt: now,
		}},
		ChatMessages: []models.ChatMessage{},
	}

	if p.HasPassword {
		if p.Password == "" {
			return nil, invalid("password required when hasPassword is set")
		}
		hash, err := auth.CreateHash(p.Password, auth.LobbyParams)
		if err != nil {
			return nil, fmt.Errorf("hash lobby password: %w", err)
		}
		l.HasPassword = true
		l.PasswordHash = hash
	}
	return l, nil
}

// Apply runs a against a copy of l. The input is never modified.
func Apply(l *models.Lobby, a Action, now time.Time) (*models.Lobby, error) {
	if l == nil {
		return nil, ErrLobbyNotFound
	}
	next := l.Clone()
	if err := a.apply(next, now); err != nil {
		return nil, err
	}
	return next, nil
}

func (a Join) apply(l *models.Lobby, now time.Time) error {
	if a.UserID == "" {
		return invalid("user id is required")
	}
	if l.Player(a.UserID) != nil {
		return nil
	}
	if l.Status != models.StatusWaiting {
		return ErrNotJoinable
	}
	if l.HasPassword {
		ok, err := auth.ComparePasswordAndHash(a.Password, l.PasswordHash)
		if err != nil {
			return fmt.Errorf("verify lobby password: %w", err)
		}
		if !ok {
			return ErrWrongPassword
		}
	}
	if l.IsFull() {
		return ErrLobbyFull
	}
	l.Players = append(l.Players, &models.Player{
		UserID:   a.UserID,
		UserName: a.UserName,
		JoinedAt: now,
	})
	return nil
}

func (a Leave) apply(l *models.Lobby, _ time.Time) error {
	idx := -1
	for i, p := range l.Players {
		if p.UserID == a.UserID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrPlayerNotFound
	}
	wasHost := l.Players[idx].IsHost
	l.Players = append(l.Players[:idx], l.Players[idx+1:]...)

	if len(l.Players) == 0 {
		return nil
	}
	if wasHost {
		// players are kept in join order, so the first one is the earliest joined
		next := l.Players[0]
		next.IsHost = true
		l.HostID = next.UserID
		l.HostName = next.UserName
	}
	if l.Status == models.StatusInGame && l.AllFinished() {
		finishLobby(l, latestFinish(l))
	}
	return nil
}

func (a SetReady) apply(l *models.Lobby, _ time.Time) error {
	if l.Status != models.StatusWaiting {
		return ErrNotJoinable
	}
	p := l.Player(a.UserID)
	if p == nil {
		return ErrPlayerNotFound
	}
	p.IsReady = a.Ready
	return nil
}

func (a StartGame) apply(l *models.Lobby, now time.Time) error {
	if l.Status != models.StatusWaiting {
		return ErrNotJoinable
	}
	if a.RequestedBy != "" {
		if host := l.Host(); host == nil || host.UserID != a.RequestedBy {
			return ErrNotHost
		}
	}
	if strings.TrimSpace(a.TextSnippetID) == "" {
		return invalid("textSnippetId is required")
	}
	started := now
	l.Status = models.StatusInGame
	l.StartedAt = &started
	l.TextSnippetID = a.TextSnippetID
	l.FinishCount = 0
	for _, p := range l.Players {
		p.ResetRace()
	}
	return nil
}

func (a UpdateProgress) apply(l *models.Lobby, _ time.Time) error {
	if l.Status != models.StatusInGame {
		return ErrNotInGame
	}
	p := l.Player(a.UserID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.HasFinished {
		return ErrAlreadyFinished
	}
	if a.Progress < 0 || a.Progress > 100 {
		return invalid("progress must be between 0 and 100")
	}
	if a.WPM < 0 || a.Accuracy < 0 {
		return invalid("wpm and accuracy must not be negative")
	}
	p.Progress = a.Progress
	p.WPM = a.WPM
	p.Accuracy = a.Accuracy
	return nil
}

func (a Finish) apply(l *models.Lobby, now time.Time) error {
	if l.Status != models.StatusInGame {
		return ErrNotInGame
	}
	p := l.Player(a.UserID)
	if p == nil {
		return ErrPlayerNotFound
	}
	if p.HasFinished {
		return ErrAlreadyFinished
	}
	if a.FinalWPM < 0 || a.FinalAccuracy < 0 {
		return invalid("wpm and accuracy must not be negative")
	}

	l.FinishCount++
	wpm, acc, at, pos := a.FinalWPM, a.FinalAccuracy, now, l.FinishCount
	p.HasFinished = true
	p.FinalWPM = &wpm
	p.FinalAccuracy = &acc
	p.FinishedAt = &at
	p.Position = &pos
	p.Progress = 100
	p.WPM = wpm
	p.Accuracy = acc

	if l.AllFinished() {
		finishLobby(l, now)
	}
	return nil
}

func (a AddChatMessage) apply(l *models.Lobby, now time.Time) error {
	// a password keeps outsiders out of the chat as well as the seats
	if l.HasPassword && l.Player(a.UserID) == nil {
		return ErrPlayerNotFound
	}
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return invalid("message is empty")
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return invalid(fmt.Sprintf("message longer than %d characters", MaxChatLength))
	}
	l.ChatMessages = append(l.ChatMessages, models.ChatMessage{
		UserID:    a.UserID,
		UserName:  a.UserName,
		Message:   text,
		Timestamp: now,
	})
	if n := len(l.ChatMessages); n > ChatCapacity {
		l.ChatMessages = append([]models.ChatMessage(nil), l.ChatMessages[n-ChatCapacity:]...)
	}
	return nil
}

func finishLobby(l *models.Lobby, at time.Time) {
	l.Status = models.StatusFinished
	l.FinishedAt = &at
}

// latestFinish is the most recent finish time among remaining players.
func latestFinish(l *models.Lobby) time.Time {
	var t time.Time
	for _, p := range l.Players {
		if p.FinishedAt != nil && p.FinishedAt.After(t) {
			t = *p.FinishedAt
		}
	}
	return t
}
