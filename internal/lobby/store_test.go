package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore starts an in-process redis and a store over it.
func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, 0), mr
}

func TestStorePutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	l := newTestLobby(t, 3)
	l = mustApply(t, l, Join{UserID: "b", UserName: "B"})
	l = mustApply(t, l, AddChatMessage{UserID: "b", UserName: "B", Text: "hello"})
	l = mustApply(t, l, StartGame{TextSnippetID: "text1"})
	l = mustApply(t, l, Finish{UserID: "b", FinalWPM: 71.5, FinalAccuracy: 0.98})

	require.NoError(t, s.Put(ctx, l))
	got, found, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, l, got)
}

func TestStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	got, found, err := s.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestStoreTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	l := newTestLobby(t, 2)
	require.NoError(t, s.Put(ctx, l))
	assert.Equal(t, DefaultTTL, mr.TTL(lobbyKey(l.ID)))

	mr.FastForward(DefaultTTL - time.Minute)
	// a write refreshes the expiry
	_, err := s.Update(ctx, l.ID, func(cur *models.Lobby) (*models.Lobby, error) {
		return Apply(cur, SetReady{UserID: "host", Ready: true}, t0)
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, mr.TTL(lobbyKey(l.ID)))

	mr.FastForward(DefaultTTL + time.Second)
	_, found, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	l := newTestLobby(t, 2)
	require.NoError(t, s.Put(ctx, l))
	require.NoError(t, s.Delete(ctx, l.ID))
	require.NoError(t, s.Delete(ctx, l.ID))
	_, found, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreActiveIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddActiveID(ctx, "a"))
	require.NoError(t, s.AddActiveID(ctx, "b"))
	require.NoError(t, s.AddActiveID(ctx, "a"))

	ids, err := s.ListActiveIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.RemoveActiveID(ctx, "a"))
	require.NoError(t, s.RemoveActiveID(ctx, "a"))
	ids, err = s.ListActiveIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestStoreUpdateBumpsVersion(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	l := newTestLobby(t, 2)
	l.Version = 1
	require.NoError(t, s.Put(ctx, l))

	next, err := s.Update(ctx, l.ID, func(cur *models.Lobby) (*models.Lobby, error) {
		return Apply(cur, Join{UserID: "b"}, t0)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Version)

	stored, _, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, next, stored)
}

func TestStoreUpdateMissingAndRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Update(ctx, "missing", func(cur *models.Lobby) (*models.Lobby, error) { return cur, nil })
	assert.ErrorIs(t, err, ErrLobbyNotFound)

	l := newTestLobby(t, 1)
	require.NoError(t, s.Put(ctx, l))
	_, err = s.Update(ctx, l.ID, func(cur *models.Lobby) (*models.Lobby, error) {
		return Apply(cur, Join{UserID: "b"}, t0)
	})
	assert.ErrorIs(t, err, ErrLobbyFull)

	stored, _, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, stored)
}

func TestStoreUpdateDeletesEmptyLobby(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	l := newTestLobby(t, 2)
	require.NoError(t, s.Put(ctx, l))
	require.NoError(t, s.AddActiveID(ctx, l.ID))

	next, err := s.Update(ctx, l.ID, func(cur *models.Lobby) (*models.Lobby, error) {
		return Apply(cur, Leave{UserID: "host"}, t0)
	})
	require.NoError(t, err)
	assert.Empty(t, next.Players)

	_, found, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, found)
	ids, err := s.ListActiveIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, l.ID)
}

func TestStoreUpdateNoLostUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	l := newTestLobby(t, 2)
	require.NoError(t, s.Put(ctx, l))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, l.ID, func(cur *models.Lobby) (*models.Lobby, error) {
				return Apply(cur, AddChatMessage{UserID: "host", Text: "tick"}, t0)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, _, err := s.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatMessages, writers)
	assert.Equal(t, int64(writers), stored.Version)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()
	ctx := context.Background()

	err := s.Put(ctx, newTestLobby(t, 2))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))

	_, _, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = s.Update(ctx, "x", func(cur *models.Lobby) (*models.Lobby, error) { return cur, nil })
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
