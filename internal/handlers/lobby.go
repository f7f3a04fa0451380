// internal/handlers/lobby.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/typerace/internal/gateway"
	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/jason-s-yu/typerace/internal/middleware"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/sirupsen/logrus"
)

type createLobbyRequest struct {
	Name        string `json:"name"`
	MaxPlayers  int    `json:"maxPlayers"`
	HasPassword bool   `json:"hasPassword"`
	Password    string `json:"password"`
}

// CreateLobbyHandler creates a lobby hosted by the caller and returns it with 201.
func CreateLobbyHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())

		var req createLobbyRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, lobby.ErrInvalidArgument.Code, "bad lobby request payload")
			return
		}
		l, err := gw.CreateLobby(r.Context(), id, lobby.CreateParams{
			Name:        req.Name,
			MaxPlayers:  req.MaxPlayers,
			HasPassword: req.HasPassword,
			Password:    req.Password,
		})
		if err != nil {
			respondError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, l.Public())
	}
}

// ListActiveLobbiesHandler returns every live lobby, oldest first.
func ListActiveLobbiesHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbies, err := gw.Coord.ListActiveLobbies(r.Context())
		if err != nil {
			respondError(w, logger, err)
			return
		}
		out := make([]*models.Lobby, len(lobbies))
		for i, l := range lobbies {
			out[i] = l.Public()
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetLobbyHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := gw.Coord.GetLobby(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Public())
	}
}

func GetChatMessagesHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())
		l, err := gw.Coord.GetLobby(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if l.HasPassword && l.Player(id.UserID) == nil {
			respondError(w, logger, lobby.ErrPlayerNotFound)
			return
		}
		writeJSON(w, http.StatusOK, l.ChatMessages)
	}
}

// ActionHandler decodes a lobby action from the body and runs it through the
// gateway, so connected members see the change.
func ActionHandler(gw *gateway.Gateway, action string, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())

		var msg gateway.Message
		if err := decodeBody(w, r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, lobby.ErrInvalidArgument.Code, "bad request payload")
			return
		}
		msg.Type = action
		l, err := gw.Apply(r.Context(), id, msg)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Public())
	}
}

// LeaveLobbyHandler removes the caller from the lobby in the path.
func LeaveLobbyHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())
		lobbyID := chi.URLParam(r, "lobbyId")

		l, err := gw.Apply(r.Context(), id, gateway.Message{Type: gateway.ActionLeaveLobby, LobbyID: lobbyID})
		if err != nil {
			respondError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"deleted": len(l.Players) == 0,
		})
	}
}

// DeleteLobbyHandler removes a lobby. Admins only.
func DeleteLobbyHandler(gw *gateway.Gateway, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())
		if !id.IsAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "admin only")
			return
		}
		lobbyID := chi.URLParam(r, "id")
		if err := gw.DeleteLobby(r.Context(), lobbyID); err != nil {
			respondError(w, logger, err)
			return
		}
		logger.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": id.UserID}).Info("lobby deleted by admin")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
