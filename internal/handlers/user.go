package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/jason-s-yu/typerace/internal/middleware"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/sirupsen/logrus"
)

const maxUserNameLength = 32

type guestRequest struct {
	Username string `json:"username"`
}

// GuestHandler issues a session for a new ephemeral user and sets it as the
// auth_token cookie.
func GuestHandler(logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req guestRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, lobby.ErrInvalidArgument.Code, "bad request payload")
			return
		}
		name := strings.TrimSpace(req.Username)
		if utf8.RuneCountInString(name) > maxUserNameLength {
			writeError(w, http.StatusBadRequest, lobby.ErrInvalidArgument.Code, "username too long")
			return
		}

		user := models.User{ID: uuid.New(), Username: name, IsEphemeral: true}
		if user.Username == "" {
			user.Username = middleware.FallbackName(user.ID.String())
		}
		token, err := auth.CreateJWT(auth.Identity{UserID: user.ID.String(), UserName: user.Username})
		if err != nil {
			logger.Errorf("failed to create guest token: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not create session")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.AuthCookie,
			Value:    token,
			HttpOnly: true,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"token": token,
			"user":  user,
		})
	}
}

// MeHandler returns the caller's identity.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := middleware.IdentityFrom(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"userId":   id.UserID,
			"userName": id.UserName,
			"isAdmin":  id.IsAdmin,
		})
	}
}
