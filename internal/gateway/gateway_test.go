package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/jason-s-yu/typerace/internal/lobby"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	coord := lobby.NewCoordinator(lobby.NewRedisStore(rdb, 0), quietLogger())
	g := New(coord, NewHub(), time.Minute, quietLogger())
	t.Cleanup(g.Close)
	return g
}

// connect attaches a client for userID and joins it to lobbyID.
func connect(t *testing.T, g *Gateway, userID, lobbyID string) *Client {
	t.Helper()
	c := newTestClient(userID)
	g.Connect(c)
	g.Handle(context.Background(), c, Message{Type: ActionJoinLobby, LobbyID: lobbyID})
	require.Equal(t, lobbyID, c.LobbyID())
	return c
}

func createLobby(t *testing.T, g *Gateway, hostID string, max int) *models.Lobby {
	t.Helper()
	l, err := g.CreateLobby(context.Background(), auth.Identity{UserID: hostID, UserName: "name-" + hostID},
		lobby.CreateParams{MaxPlayers: max})
	require.NoError(t, err)
	return l
}

func TestCreateLobbyAnnouncedToEveryone(t *testing.T) {
	g := newTestGateway(t)
	watcher := newTestClient("w")
	g.Connect(watcher)

	l := createLobby(t, g, "a", 2)
	evs := drain(watcher)
	require.Len(t, evs, 1)
	assert.Equal(t, EventLobbyCreated, evs[0].Type())
	assert.Equal(t, l.ID, evs[0]["lobbyId"])
}

func TestJoinBroadcastsToGroup(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 3)
	host := connect(t, g, "a", l.ID)
	drain(host)

	b := connect(t, g, "b", l.ID)
	assert.Equal(t, []string{EventPlayerJoined, EventLobbyUpdated}, types(drain(host)))
	assert.Equal(t, []string{EventPlayerJoined, EventLobbyUpdated}, types(drain(b)))

	snap, err := g.Coord.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)
}

func TestErrorsGoOnlyToCaller(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 3)
	host := connect(t, g, "a", l.ID)
	b := connect(t, g, "b", l.ID)
	drain(host)
	drain(b)

	g.Handle(context.Background(), b, Message{Type: ActionStartGame, LobbyID: l.ID, TextSnippetID: "t"})
	evs := drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Type())
	assert.Equal(t, "not_host", evs[0]["code"])
	assert.Empty(t, drain(host))

	g.Handle(context.Background(), b, Message{Type: "dance", LobbyID: l.ID})
	evs = drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, ErrUnknownAction.Code, evs[0]["code"])

	g.Handle(context.Background(), b, Message{Type: ActionJoinLobby})
	evs = drain(b)
	require.Len(t, evs, 1)
	assert.Equal(t, lobby.ErrInvalidArgument.Code, evs[0]["code"])
}

func TestRaceEventsInOrder(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	l := createLobby(t, g, "a", 2)
	host := connect(t, g, "a", l.ID)
	b := connect(t, g, "b", l.ID)

	g.Handle(ctx, b, Message{Type: ActionUpdateReadyStatus, LobbyID: l.ID, IsReady: true})
	g.Handle(ctx, host, Message{Type: ActionStartGame, LobbyID: l.ID, TextSnippetID: "t1"})
	g.Handle(ctx, b, Message{Type: ActionUpdateProgress, LobbyID: l.ID, Progress: 40, WPM: 50, Accuracy: 0.9})
	g.Handle(ctx, b, Message{Type: ActionSendChatMessage, LobbyID: l.ID, Message: "gl"})
	drain(host)

	g.Handle(ctx, b, Message{Type: ActionFinishGame, LobbyID: l.ID, FinalWPM: 60, FinalAccuracy: 0.95})
	evs := drain(host)
	assert.Equal(t, []string{EventPlayerFinished, EventLobbyUpdated}, types(evs))
	pos := evs[0]["position"].(*int)
	assert.Equal(t, 1, *pos)

	g.Handle(ctx, host, Message{Type: ActionFinishGame, LobbyID: l.ID, FinalWPM: 55, FinalAccuracy: 0.9})
	evs = drain(b)
	assert.Equal(t, []string{
		EventReadyStatusChanged, EventLobbyUpdated,
		EventGameStarted, EventLobbyUpdated,
		EventPlayerProgressUpdated, EventLobbyUpdated,
		EventReceiveChatMessage, EventLobbyUpdated,
		EventPlayerFinished, EventLobbyUpdated,
		EventPlayerFinished, EventAllPlayersFinished, EventGameResults, EventLobbyUpdated,
	}, types(evs)[2:])

	results := evs[len(evs)-2]["results"].(models.RaceResult)
	require.Len(t, results.Standings, 2)
	assert.Equal(t, "b", results.Standings[0].UserID)
}

func TestApplyBroadcastsHTTPMutations(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 2)
	host := connect(t, g, "a", l.ID)
	drain(host)

	got, err := g.Apply(context.Background(), auth.Identity{UserID: "b", UserName: "B"},
		Message{Type: ActionJoinLobby, LobbyID: l.ID})
	require.NoError(t, err)
	assert.Len(t, got.Players, 2)
	assert.Equal(t, []string{EventPlayerJoined, EventLobbyUpdated}, types(drain(host)))

	_, err = g.Apply(context.Background(), auth.Identity{UserID: "c"}, Message{Type: ActionJoinLobby, LobbyID: l.ID})
	assert.ErrorIs(t, err, lobby.ErrLobbyFull)
	assert.Empty(t, drain(host))
}

func TestLastLeaveDeletesLobby(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 2)
	host := connect(t, g, "a", l.ID)
	watcher := newTestClient("w")
	g.Connect(watcher)
	drain(host)

	g.Handle(context.Background(), host, Message{Type: ActionLeaveLobby, LobbyID: l.ID})
	assert.Equal(t, []string{EventPlayerLeft, EventLobbyDeleted}, types(drain(host)))
	assert.Equal(t, []string{EventLobbyDeleted}, types(drain(watcher)))
	assert.Equal(t, "", host.LobbyID())
	assert.Equal(t, 0, g.Hub.Members(l.ID))

	_, err := g.Coord.GetLobby(context.Background(), l.ID)
	assert.ErrorIs(t, err, lobby.ErrLobbyNotFound)
}

func TestDisconnectLeavesAfterGrace(t *testing.T) {
	g := newTestGateway(t)
	g.Grace = 20 * time.Millisecond
	l := createLobby(t, g, "a", 3)
	host := connect(t, g, "a", l.ID)
	b := connect(t, g, "b", l.ID)
	drain(host)

	g.Disconnect(b)
	assert.Equal(t, 1, g.PendingLeaves())

	require.Eventually(t, func() bool {
		snap, err := g.Coord.GetLobby(context.Background(), l.ID)
		return err == nil && snap.Player("b") == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.PendingLeaves())
	assert.Contains(t, types(drain(host)), EventPlayerLeft)
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	g := newTestGateway(t)
	g.Grace = 100 * time.Millisecond
	l := createLobby(t, g, "a", 3)
	connect(t, g, "a", l.ID)
	b := connect(t, g, "b", l.ID)

	g.Disconnect(b)
	require.Equal(t, 1, g.PendingLeaves())
	connect(t, g, "b", l.ID)
	assert.Equal(t, 0, g.PendingLeaves())

	time.Sleep(200 * time.Millisecond)
	snap, err := g.Coord.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.NotNil(t, snap.Player("b"))
}

func TestSecondConnectionKeepsSeat(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 3)
	first := connect(t, g, "a", l.ID)
	connect(t, g, "a", l.ID)

	g.Disconnect(first)
	assert.Equal(t, 0, g.PendingLeaves())
}

func TestDeleteLobbyClosesGroup(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 3)
	host := connect(t, g, "a", l.ID)
	drain(host)

	require.NoError(t, g.DeleteLobby(context.Background(), l.ID))
	assert.Equal(t, []string{EventLobbyDeleted}, types(drain(host)))
	assert.Equal(t, "", host.LobbyID())
	assert.ErrorIs(t, g.DeleteLobby(context.Background(), l.ID), lobby.ErrLobbyNotFound)
}

func TestConcurrentMutationsBroadcastInVersionOrder(t *testing.T) {
	g := newTestGateway(t)
	l := createLobby(t, g, "a", 3)
	connect(t, g, "a", l.ID)

	observer := NewClient(auth.Identity{UserID: "w", UserName: "W"}, 512, quietLogger())
	g.Connect(observer)
	g.Handle(context.Background(), observer, Message{Type: ActionJoinLobby, LobbyID: l.ID})
	drain(observer)

	const writers, perWriter = 16, 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := g.Apply(context.Background(), auth.Identity{UserID: "a", UserName: "A"},
					Message{Type: ActionSendChatMessage, LobbyID: l.ID, Message: fmt.Sprintf("%d-%d", i, j)})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	var versions []int64
	for _, ev := range drain(observer) {
		if ev.Type() == EventLobbyUpdated {
			versions = append(versions, ev["lobby"].(*models.Lobby).Version)
		}
	}
	require.Len(t, versions, writers*perWriter)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "snapshot %d arrived after %d", versions[i], versions[i-1])
	}
	assert.Equal(t, 0, g.locks.size())
}

// slowStore delays the first Update so a reconnect can land mid-write.
type slowStore struct {
	lobby.Store
	delay   time.Duration
	once    sync.Once
	started chan struct{}
}

func (s *slowStore) Update(ctx context.Context, id string, fn lobby.UpdateFunc) (*models.Lobby, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		time.Sleep(s.delay)
	}
	return s.Store.Update(ctx, id, fn)
}

func TestReconnectDuringGraceLeaveEndsSeated(t *testing.T) {
	g := newTestGateway(t)
	g.Grace = 10 * time.Millisecond
	l := createLobby(t, g, "a", 3)
	connect(t, g, "a", l.ID)
	b := connect(t, g, "b", l.ID)

	slow := &slowStore{Store: g.Coord.Store, delay: 200 * time.Millisecond, started: make(chan struct{})}
	g.Coord.Store = slow

	g.Disconnect(b)
	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("grace leave never reached the store")
	}

	again := newTestClient("b")
	g.Connect(again)
	g.Handle(context.Background(), again, Message{Type: ActionJoinLobby, LobbyID: l.ID})

	assert.Equal(t, l.ID, again.LobbyID())
	assert.True(t, g.Hub.UserPresent(l.ID, "b"))
	assert.Equal(t, 0, g.PendingLeaves())
	snap, err := g.Coord.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.NotNil(t, snap.Player("b"))
}
