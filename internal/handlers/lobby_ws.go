// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/typerace/internal/gateway"
	"github.com/jason-s-yu/typerace/internal/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Second

	// inbound actions per connection: sustained rate and burst
	actionInterval = 50 * time.Millisecond
	actionBurst    = 20
)

// LobbyWSHandler upgrades to the "lobby" subprotocol and serves one
// realtime connection. Unauthenticated sockets are closed with 3001 before
// any action is read.
func LobbyWSHandler(gw *gateway.Gateway, dir middleware.UserDirectory, originPatterns []string, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		identity, err := middleware.Resolve(r, dir)
		if err != nil {
			logger.WithField("remote", r.RemoteAddr).Debugf("websocket auth failed: %v", err)
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}

		client := gateway.NewClient(identity, gateway.DefaultBuffer, logger)
		gw.Connect(client)
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path, identity.UserID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go writePump(ctx, c, client, logger)
		readErr := readPump(ctx, c, gw, client, logger)

		cancel()
		gw.Disconnect(client)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, identity.UserID, readErr)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump decodes client actions until the connection fails. It returns nil
// for a normal close.
func readPump(ctx context.Context, c *websocket.Conn, gw *gateway.Gateway, client *gateway.Client, logger logrus.FieldLogger) error {
	l := rate.NewLimiter(rate.Every(actionInterval), actionBurst)
	for {
		if err := l.Wait(ctx); err != nil {
			return nil
		}

		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			client.SendError("invalid_message", "text frames only")
			continue
		}

		var msg gateway.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WithField("user_id", client.Identity.UserID).Debugf("invalid json: %v", err)
			client.SendError("invalid_json", "Invalid JSON format")
			continue
		}
		gw.Handle(ctx, client, msg)
	}
}

// writePump drains the client's queue to the socket and pings periodically.
func writePump(ctx context.Context, c *websocket.Conn, client *gateway.Client, logger logrus.FieldLogger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-client.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warnf("failed to marshal %q event: %v", ev.Type(), err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithField("user_id", client.Identity.UserID).Debugf("websocket write failed: %v", err)
				c.Close(websocket.StatusGoingAway, "write failed")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithField("user_id", client.Identity.UserID).Debugf("ping failed: %v", err)
				c.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
