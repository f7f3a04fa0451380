// internal/gateway/hub.go
package gateway

import "sync"

// Hub tracks connected clients and their lobby groups. A client is in at
// most one group.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	groups  map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
	}
}

// Attach registers a new connection.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Detach forgets the connection and returns the group it was in.
func (h *Hub) Detach(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	prev := c.LobbyID()
	h.removeLocked(c, prev)
	c.setLobbyID("")
	return prev
}

// Join moves c into the group of lobbyID, leaving its previous group.
// It returns the previous group id, or "".
func (h *Hub) Join(c *Client, lobbyID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := c.LobbyID()
	if prev == lobbyID {
		return ""
	}
	h.removeLocked(c, prev)
	g, ok := h.groups[lobbyID]
	if !ok {
		g = make(map[*Client]struct{})
		h.groups[lobbyID] = g
	}
	g[c] = struct{}{}
	c.setLobbyID(lobbyID)
	return prev
}

// Leave removes c from the group of lobbyID if it is in it.
func (h *Hub) Leave(c *Client, lobbyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.LobbyID() != lobbyID {
		return
	}
	h.removeLocked(c, lobbyID)
	c.setLobbyID("")
}

// LeaveUser removes every connection of userID from the group.
func (h *Hub) LeaveUser(lobbyID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[lobbyID] {
		if c.Identity.UserID == userID {
			h.removeLocked(c, lobbyID)
			c.setLobbyID("")
		}
	}
}

// CloseGroup empties the group of lobbyID and returns its former members.
func (h *Hub) CloseGroup(lobbyID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var members []*Client
	for c := range h.groups[lobbyID] {
		members = append(members, c)
		c.setLobbyID("")
	}
	delete(h.groups, lobbyID)
	return members
}

func (h *Hub) removeLocked(c *Client, lobbyID string) {
	if lobbyID == "" {
		return
	}
	g := h.groups[lobbyID]
	delete(g, c)
	if len(g) == 0 {
		delete(h.groups, lobbyID)
	}
}

// Broadcast sends ev to every member of the group.
func (h *Hub) Broadcast(lobbyID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[lobbyID] {
		c.Send(ev)
	}
}

// BroadcastAll sends ev to every connected client.
func (h *Hub) BroadcastAll(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.Send(ev)
	}
}

// Members returns the number of connections in the group.
func (h *Hub) Members(lobbyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[lobbyID])
}

// UserPresent reports whether userID has any connection in the group.
func (h *Hub) UserPresent(lobbyID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[lobbyID] {
		if c.Identity.UserID == userID {
			return true
		}
	}
	return false
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
