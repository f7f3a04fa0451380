// internal/handlers/routes.go
package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/typerace/internal/config"
	"github.com/jason-s-yu/typerace/internal/gateway"
	"github.com/jason-s-yu/typerace/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every HTTP and websocket route of the lobby service.
func NewRouter(cfg config.Config, gw *gateway.Gateway, dir middleware.UserDirectory, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(corsOptions(cfg)))

	r.Post("/user/guest", GuestHandler(logger))
	r.With(middleware.RequireIdentity(dir, logger)).Get("/user/me", MeHandler())

	r.Route("/lobby", func(r chi.Router) {
		// the websocket authenticates itself so it can close with 3001
		r.Get("/ws", LobbyWSHandler(gw, dir, originPatterns(cfg), logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity(dir, logger))

			r.Post("/create", CreateLobbyHandler(gw, logger))
			r.Get("/active", ListActiveLobbiesHandler(gw, logger))
			r.Post("/join", ActionHandler(gw, gateway.ActionJoinLobby, logger))
			r.Post("/leave/{lobbyId}", LeaveLobbyHandler(gw, logger))
			r.Post("/ready", ActionHandler(gw, gateway.ActionUpdateReadyStatus, logger))
			r.Post("/start", ActionHandler(gw, gateway.ActionStartGame, logger))
			r.Post("/progress", ActionHandler(gw, gateway.ActionUpdateProgress, logger))
			r.Post("/complete", ActionHandler(gw, gateway.ActionFinishGame, logger))
			r.Post("/chat", ActionHandler(gw, gateway.ActionSendChatMessage, logger))
			r.Get("/{id}", GetLobbyHandler(gw, logger))
			r.Get("/{id}/chat", GetChatMessagesHandler(gw, logger))
			r.Delete("/{id}", DeleteLobbyHandler(gw, logger))
		})
	})
	return r
}

func corsOptions(cfg config.Config) cors.Options {
	return cors.Options{
		AllowedOrigins: func() []string {
			// allow only configured origins in production mode
			if cfg.IsProduction() {
				return cfg.AllowedOrigins
			}
			return []string{"https://*", "http://*"}
		}(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}
}

// originPatterns are the websocket origin hosts accepted besides same-host.
func originPatterns(cfg config.Config) []string {
	if !cfg.IsProduction() {
		return []string{"*"}
	}
	patterns := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
