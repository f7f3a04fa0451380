// internal/gateway/gateway.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultDisconnectGrace is how long a dropped connection keeps its seat.
const DefaultDisconnectGrace = 15 * time.Second

var ErrUnknownAction = &lobby.Error{Kind: lobby.KindInvalid, Code: "unknown_action", Msg: "unknown action type"}

// Gateway turns client actions into coordinator calls and fans the results
// out to the lobby groups of the hub.
type Gateway struct {
	Coord *lobby.Coordinator
	Hub   *Hub
	Log   logrus.FieldLogger
	// Grace is the delay between losing a user's last connection to a lobby
	// and removing them from it.
	Grace time.Duration

	timersMu sync.Mutex
	timers   map[seat]*time.Timer

	// locks serializes commit and broadcast per lobby so members see
	// snapshots in store order.
	locks lobbyLocks
}

type seat struct{ lobbyID, userID string }

func New(coord *lobby.Coordinator, hub *Hub, grace time.Duration, logger logrus.FieldLogger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if grace <= 0 {
		grace = DefaultDisconnectGrace
	}
	return &Gateway{
		Coord:  coord,
		Hub:    hub,
		Log:    logger,
		Grace:  grace,
		timers: make(map[seat]*time.Timer),
		locks:  lobbyLocks{m: make(map[string]*lobbyLock)},
	}
}

// Connect registers a freshly authenticated connection.
func (g *Gateway) Connect(c *Client) {
	g.Hub.Attach(c)
}

// Disconnect drops the connection. If it was the user's last connection to
// its lobby, the user leaves that lobby once the grace period passes.
func (g *Gateway) Disconnect(c *Client) {
	lobbyID := g.Hub.Detach(c)
	if lobbyID == "" || g.Hub.UserPresent(lobbyID, c.Identity.UserID) {
		return
	}
	g.scheduleLeave(lobbyID, c.Identity)
}

// Close cancels every pending disconnect leave.
func (g *Gateway) Close() {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	for k, t := range g.timers {
		t.Stop()
		delete(g.timers, k)
	}
}

func (g *Gateway) scheduleLeave(lobbyID string, id auth.Identity) {
	key := seat{lobbyID, id.UserID}
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	if t, ok := g.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(g.Grace, func() {
		// a rejoin takes the same lock, so it either cancelled this timer
		// already or runs after the leave commits
		unlock := g.locks.lock(lobbyID)
		defer unlock()

		g.timersMu.Lock()
		if g.timers[key] != t {
			g.timersMu.Unlock()
			return
		}
		delete(g.timers, key)
		g.timersMu.Unlock()

		if g.Hub.UserPresent(lobbyID, id.UserID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := g.applyLocked(ctx, id, Message{Type: ActionLeaveLobby, LobbyID: lobbyID})
		switch {
		case err == nil:
			g.Log.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": id.UserID}).Info("removed disconnected player")
		case errors.Is(err, lobby.ErrPlayerNotFound), errors.Is(err, lobby.ErrLobbyNotFound):
		default:
			g.Log.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": id.UserID}).Warnf("disconnect leave failed: %v", err)
		}
	})
	g.timers[key] = t
}

// cancelLeave stops a pending disconnect leave and reports whether one existed.
func (g *Gateway) cancelLeave(lobbyID, userID string) bool {
	key := seat{lobbyID, userID}
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	t, ok := g.timers[key]
	if ok {
		t.Stop()
		delete(g.timers, key)
	}
	return ok
}

// PendingLeaves returns the number of scheduled disconnect leaves.
func (g *Gateway) PendingLeaves() int {
	g.timersMu.Lock()
	defer g.timersMu.Unlock()
	return len(g.timers)
}

// Handle runs one action received on connection c. Failures are reported
// to c alone.
func (g *Gateway) Handle(ctx context.Context, c *Client, msg Message) {
	unlock := g.locks.lock(msg.LobbyID)
	defer unlock()

	out, err := g.do(ctx, c.Identity, msg)
	if err != nil {
		c.SendError(lobby.CodeOf(err), lobby.PublicMessage(err))
		return
	}

	uid := c.Identity.UserID
	if msg.Type == ActionJoinLobby {
		// the joiner is in the group before the join is announced
		g.cancelLeave(msg.LobbyID, uid)
		if prev := g.Hub.Join(c, msg.LobbyID); prev != "" && !g.Hub.UserPresent(prev, uid) {
			g.scheduleLeave(prev, c.Identity)
		}
	}
	g.emit(c.Identity, msg, out)
}

// Apply runs an action on behalf of identity without a connection, as the
// HTTP handlers do, and broadcasts the result to the lobby group.
func (g *Gateway) Apply(ctx context.Context, identity auth.Identity, msg Message) (*models.Lobby, error) {
	unlock := g.locks.lock(msg.LobbyID)
	defer unlock()
	return g.applyLocked(ctx, identity, msg)
}

func (g *Gateway) applyLocked(ctx context.Context, identity auth.Identity, msg Message) (*models.Lobby, error) {
	out, err := g.do(ctx, identity, msg)
	if err != nil {
		return nil, err
	}
	g.emit(identity, msg, out)
	return out.Lobby, nil
}

// CreateLobby creates a lobby hosted by identity and announces it to every
// connected client.
func (g *Gateway) CreateLobby(ctx context.Context, identity auth.Identity, p lobby.CreateParams) (*models.Lobby, error) {
	p.HostID = identity.UserID
	p.HostName = identity.UserName
	l, err := g.Coord.CreateLobby(ctx, p)
	if err != nil {
		return nil, err
	}
	g.Hub.BroadcastAll(lobbyCreated(l))
	return l, nil
}

// DeleteLobby removes a lobby and tells everyone it is gone.
func (g *Gateway) DeleteLobby(ctx context.Context, lobbyID string) error {
	unlock := g.locks.lock(lobbyID)
	defer unlock()
	if err := g.Coord.DeleteLobby(ctx, lobbyID); err != nil {
		return err
	}
	g.closeLobby(lobbyID)
	return nil
}

func (g *Gateway) closeLobby(lobbyID string) {
	ev := lobbyDeleted(lobbyID)
	for _, c := range g.Hub.CloseGroup(lobbyID) {
		g.cancelLeave(lobbyID, c.Identity.UserID)
	}
	g.Hub.BroadcastAll(ev)
}

func (g *Gateway) do(ctx context.Context, identity auth.Identity, msg Message) (lobby.Outcome, error) {
	if strings.TrimSpace(msg.LobbyID) == "" {
		return lobby.Outcome{}, &lobby.Error{Kind: lobby.KindInvalid, Code: lobby.ErrInvalidArgument.Code, Msg: "lobbyId is required"}
	}
	a, err := actionFor(identity, msg)
	if err != nil {
		return lobby.Outcome{}, err
	}
	return g.Coord.Do(ctx, msg.LobbyID, a)
}

func actionFor(id auth.Identity, msg Message) (lobby.Action, error) {
	switch msg.Type {
	case ActionJoinLobby:
		return lobby.Join{UserID: id.UserID, UserName: id.UserName, Password: msg.Password}, nil
	case ActionLeaveLobby:
		return lobby.Leave{UserID: id.UserID}, nil
	case ActionUpdateReadyStatus:
		return lobby.SetReady{UserID: id.UserID, Ready: msg.IsReady}, nil
	case ActionStartGame:
		return lobby.StartGame{RequestedBy: id.UserID, TextSnippetID: msg.TextSnippetID}, nil
	case ActionUpdateProgress:
		return lobby.UpdateProgress{UserID: id.UserID, Progress: msg.Progress, WPM: msg.WPM, Accuracy: msg.Accuracy}, nil
	case ActionFinishGame:
		return lobby.Finish{UserID: id.UserID, FinalWPM: msg.FinalWPM, FinalAccuracy: msg.FinalAccuracy}, nil
	case ActionSendChatMessage:
		return lobby.AddChatMessage{UserID: id.UserID, UserName: id.UserName, Text: msg.Message}, nil
	}
	return nil, &lobby.Error{Kind: ErrUnknownAction.Kind, Code: ErrUnknownAction.Code, Msg: fmt.Sprintf("unknown action type: %q", msg.Type)}
}

// emit broadcasts the events for a successful action: the specific event,
// race completion if it happened, then the full snapshot.
func (g *Gateway) emit(identity auth.Identity, msg Message, out lobby.Outcome) {
	l := out.Lobby
	uid := identity.UserID

	if out.Deleted {
		g.Hub.Broadcast(l.ID, playerLeft(l.ID, uid))
		g.cancelLeave(l.ID, uid)
		g.closeLobby(l.ID)
		return
	}

	switch msg.Type {
	case ActionJoinLobby:
		if p := l.Player(uid); p != nil {
			g.Hub.Broadcast(l.ID, playerJoined(l, p))
		}
	case ActionLeaveLobby:
		g.Hub.Broadcast(l.ID, playerLeft(l.ID, uid))
		g.cancelLeave(l.ID, uid)
		g.Hub.LeaveUser(l.ID, uid)
	case ActionUpdateReadyStatus:
		g.Hub.Broadcast(l.ID, readyStatusChanged(l.ID, uid, msg.IsReady))
	case ActionStartGame:
		g.Hub.Broadcast(l.ID, gameStarted(l))
	case ActionUpdateProgress:
		if p := l.Player(uid); p != nil {
			g.Hub.Broadcast(l.ID, progressUpdated(l.ID, p))
		}
	case ActionFinishGame:
		if p := l.Player(uid); p != nil {
			g.Hub.Broadcast(l.ID, playerFinished(l.ID, p))
		}
	case ActionSendChatMessage:
		if n := len(l.ChatMessages); n > 0 {
			g.Hub.Broadcast(l.ID, chatReceived(l.ID, l.ChatMessages[n-1]))
		}
	}

	if out.RaceFinished {
		g.Hub.Broadcast(l.ID, allPlayersFinished(l.ID))
		g.Hub.Broadcast(l.ID, gameResults(l))
	}
	g.Hub.Broadcast(l.ID, lobbyUpdated(l))
}

type lobbyLock struct {
	sync.Mutex
	refs int
}

// lobbyLocks hands out one mutex per lobby id and forgets it once no
// caller holds or waits for it.
type lobbyLocks struct {
	mu sync.Mutex
	m  map[string]*lobbyLock
}

func (k *lobbyLocks) lock(id string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.m[id]
	if !ok {
		l = &lobbyLock{}
		k.m[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}

func (k *lobbyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
