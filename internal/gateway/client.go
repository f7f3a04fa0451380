// internal/gateway/client.go
package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer is the outbound queue length of a client.
const DefaultBuffer = 32

// Client is one live realtime connection of an authenticated user.
type Client struct {
	ID       string
	Identity auth.Identity
	// Out is drained by the connection's write pump.
	Out chan Event

	log logrus.FieldLogger

	mu      sync.Mutex
	lobbyID string
}

// NewClient returns a client with a buffered outbound queue.
func NewClient(identity auth.Identity, buffer int, logger logrus.FieldLogger) *Client {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Client{
		ID:       id,
		Identity: identity,
		Out:      make(chan Event, buffer),
		log:      logger.WithFields(logrus.Fields{"conn_id": id, "user_id": identity.UserID}),
	}
}

// Send queues ev without blocking. A full queue drops the event.
func (c *Client) Send(ev Event) bool {
	select {
	case c.Out <- ev:
		return true
	default:
		c.log.Warnf("outbound queue full, dropped %q", ev.Type())
		return false
	}
}

// SendError queues an error event for this client only.
func (c *Client) SendError(code, msg string) {
	c.Send(ErrorEvent(code, msg))
}

// LobbyID returns the lobby group the client is in, or "".
func (c *Client) LobbyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyID
}

func (c *Client) setLobbyID(id string) {
	c.mu.Lock()
	c.lobbyID = id
	c.mu.Unlock()
}
