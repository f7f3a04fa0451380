package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/typerace/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) dial(t *testing.T, token string, subprotocols ...string) *websocket.Conn {
	t.Helper()
	if subprotocols == nil {
		subprotocols = []string{"lobby"}
	}
	opts := &websocket.DialOptions{Subprotocols: subprotocols}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http")+"/lobby/ws", opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

// readUntil reads events until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var ev map[string]interface{}
		require.NoError(t, wsjson.Read(ctx, c, &ev), "waiting for %s", typ)
		if ev["type"] == typ {
			return ev
		}
	}
}

func send(t *testing.T, c *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, msg))
}

func TestWSRejectsUnauthenticated(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(InvalidAuthTokenError), websocket.CloseStatus(err))
}

func TestWSRejectsWrongSubprotocol(t *testing.T) {
	e := newTestEnv(t)
	token := tokenFor(t, auth.Identity{UserID: "u-a", UserName: "Ann"})
	c := e.dial(t, token, "chat")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}

func TestWSLobbyFlow(t *testing.T) {
	e := newTestEnv(t)
	hostToken := tokenFor(t, auth.Identity{UserID: "u-a", UserName: "Ann"})
	guestToken := tokenFor(t, auth.Identity{UserID: "u-b", UserName: "Ben"})

	host := e.dial(t, hostToken)
	guest := e.dial(t, guestToken)
	require.Eventually(t, func() bool { return e.gw.Hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	_, body := e.call(t, http.MethodPost, "/lobby/create", hostToken, map[string]interface{}{"name": "ws", "maxPlayers": 2})
	id := decodeLobby(t, body).ID
	created := readUntil(t, guest, "lobby_created")
	assert.Equal(t, id, created["lobbyId"])

	send(t, host, map[string]interface{}{"type": "join_lobby", "lobbyId": id})
	readUntil(t, host, "lobby_updated")

	send(t, guest, map[string]interface{}{"type": "join_lobby", "lobbyId": id})
	joined := readUntil(t, host, "player_joined")
	assert.Equal(t, "u-b", joined["player"].(map[string]interface{})["userId"])

	// an HTTP mutation reaches the sockets too
	status, _ := e.call(t, http.MethodPost, "/lobby/ready", guestToken, map[string]interface{}{"lobbyId": id, "isReady": true})
	require.Equal(t, http.StatusOK, status)
	ready := readUntil(t, host, "ready_status_changed")
	assert.Equal(t, true, ready["isReady"])

	send(t, guest, map[string]interface{}{"type": "start_game", "lobbyId": id, "textSnippetId": "t"})
	errEv := readUntil(t, guest, "error")
	assert.Equal(t, "not_host", errEv["code"])

	send(t, host, map[string]interface{}{"type": "start_game", "lobbyId": id, "textSnippetId": "t"})
	readUntil(t, guest, "game_started")

	send(t, guest, map[string]interface{}{"type": "send_chat_message", "lobbyId": id, "message": "hi"})
	chat := readUntil(t, host, "receive_chat_message")
	assert.Equal(t, "hi", chat["message"].(map[string]interface{})["message"])

	send(t, guest, map[string]interface{}{"type": "finish_game", "lobbyId": id, "finalWpm": 70, "finalAccuracy": 0.9})
	readUntil(t, guest, "player_finished")
	send(t, host, map[string]interface{}{"type": "finish_game", "lobbyId": id, "finalWpm": 60, "finalAccuracy": 0.9})
	readUntil(t, guest, "all_players_finished")
	results := readUntil(t, guest, "game_results")
	standings := results["results"].(map[string]interface{})["standings"].([]interface{})
	require.Len(t, standings, 2)
	assert.Equal(t, "u-b", standings[0].(map[string]interface{})["userId"])
}

func TestWSInvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(t, tokenFor(t, auth.Identity{UserID: "u-a", UserName: "Ann"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{oops")))
	ev := readUntil(t, c, "error")
	assert.Equal(t, "invalid_json", ev["code"])
}

func TestWSDisconnectSchedulesLeave(t *testing.T) {
	e := newTestEnv(t)
	token := tokenFor(t, auth.Identity{UserID: "u-a", UserName: "Ann"})
	_, body := e.call(t, http.MethodPost, "/lobby/create", token, map[string]interface{}{"name": "x"})
	id := decodeLobby(t, body).ID

	c := e.dial(t, token)
	send(t, c, map[string]interface{}{"type": "join_lobby", "lobbyId": id})
	readUntil(t, c, "lobby_updated")

	c.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return e.gw.PendingLeaves() == 1 }, 2*time.Second, 10*time.Millisecond)
}
