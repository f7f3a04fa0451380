// internal/gateway/events.go
package gateway

import (
	"time"

	"github.com/jason-s-yu/typerace/internal/models"
)

// Inbound action types sent by clients.
const (
	ActionJoinLobby         = "join_lobby"
	ActionLeaveLobby        = "leave_lobby"
	ActionUpdateReadyStatus = "update_ready_status"
	ActionStartGame         = "start_game"
	ActionUpdateProgress    = "update_progress"
	ActionFinishGame        = "finish_game"
	ActionSendChatMessage   = "send_chat_message"
)

// Outbound event types.
const (
	EventLobbyCreated          = "lobby_created"
	EventLobbyDeleted          = "lobby_deleted"
	EventPlayerJoined          = "player_joined"
	EventPlayerLeft            = "player_left"
	EventReadyStatusChanged    = "ready_status_changed"
	EventGameStarted           = "game_started"
	EventPlayerProgressUpdated = "player_progress_updated"
	EventPlayerFinished        = "player_finished"
	EventAllPlayersFinished    = "all_players_finished"
	EventGameResults           = "game_results"
	EventReceiveChatMessage    = "receive_chat_message"
	EventLobbyUpdated          = "lobby_updated"
	EventError                 = "error"
)

// Message is one inbound client action. Fields unused by an action are ignored.
type Message struct {
	Type          string  `json:"type"`
	LobbyID       string  `json:"lobbyId"`
	Password      string  `json:"password,omitempty"`
	IsReady       bool    `json:"isReady,omitempty"`
	TextSnippetID string  `json:"textSnippetId,omitempty"`
	Progress      float64 `json:"progress,omitempty"`
	WPM           float64 `json:"wpm,omitempty"`
	Accuracy      float64 `json:"accuracy,omitempty"`
	FinalWPM      float64 `json:"finalWpm,omitempty"`
	FinalAccuracy float64 `json:"finalAccuracy,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Event is one outbound message. It always carries a "type" key.
type Event map[string]interface{}

// Type returns the event type.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

func newEvent(typ string, fields map[string]interface{}) Event {
	ev := Event{"type": typ}
	for k, v := range fields {
		ev[k] = v
	}
	return ev
}

// ErrorEvent builds the error event sent to a single caller.
func ErrorEvent(code, msg string) Event {
	return Event{"type": EventError, "code": code, "message": msg}
}

func lobbyUpdated(l *models.Lobby) Event {
	return newEvent(EventLobbyUpdated, map[string]interface{}{
		"lobbyId": l.ID,
		"lobby":   l.Public(),
	})
}

func lobbyCreated(l *models.Lobby) Event {
	return newEvent(EventLobbyCreated, map[string]interface{}{
		"lobbyId": l.ID,
		"lobby":   l.Public(),
	})
}

func lobbyDeleted(id string) Event {
	return newEvent(EventLobbyDeleted, map[string]interface{}{"lobbyId": id})
}

func playerJoined(l *models.Lobby, p *models.Player) Event {
	return newEvent(EventPlayerJoined, map[string]interface{}{
		"lobbyId": l.ID,
		"player":  p,
	})
}

func playerLeft(lobbyID, userID string) Event {
	return newEvent(EventPlayerLeft, map[string]interface{}{
		"lobbyId": lobbyID,
		"userId":  userID,
	})
}

func readyStatusChanged(lobbyID, userID string, ready bool) Event {
	return newEvent(EventReadyStatusChanged, map[string]interface{}{
		"lobbyId": lobbyID,
		"userId":  userID,
		"isReady": ready,
	})
}

func gameStarted(l *models.Lobby) Event {
	var started time.Time
	if l.StartedAt != nil {
		started = *l.StartedAt
	}
	return newEvent(EventGameStarted, map[string]interface{}{
		"lobbyId":       l.ID,
		"textSnippetId": l.TextSnippetID,
		"startedAt":     started,
	})
}

func progressUpdated(lobbyID string, p *models.Player) Event {
	return newEvent(EventPlayerProgressUpdated, map[string]interface{}{
		"lobbyId":  lobbyID,
		"userId":   p.UserID,
		"progress": p.Progress,
		"wpm":      p.WPM,
		"accuracy": p.Accuracy,
	})
}

func playerFinished(lobbyID string, p *models.Player) Event {
	return newEvent(EventPlayerFinished, map[string]interface{}{
		"lobbyId":       lobbyID,
		"userId":        p.UserID,
		"position":      p.Position,
		"finalWpm":      p.FinalWPM,
		"finalAccuracy": p.FinalAccuracy,
	})
}

func allPlayersFinished(lobbyID string) Event {
	return newEvent(EventAllPlayersFinished, map[string]interface{}{"lobbyId": lobbyID})
}

func gameResults(l *models.Lobby) Event {
	return newEvent(EventGameResults, map[string]interface{}{
		"lobbyId": l.ID,
		"results": models.NewRaceResult(l),
	})
}

func chatReceived(lobbyID string, m models.ChatMessage) Event {
	return newEvent(EventReceiveChatMessage, map[string]interface{}{
		"lobbyId": lobbyID,
		"message": m,
	})
}
