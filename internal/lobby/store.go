// internal/lobby/store.go
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long an untouched lobby snapshot survives.
	DefaultTTL = 2 * time.Hour

	keyPrefix    = "lobby:"
	activeSetKey = "lobby:active"

	// maxUpdateAttempts bounds the optimistic retry loop in Update.
	maxUpdateAttempts = 16
)

// ErrUpdateContention is returned when Update keeps losing the race against
// concurrent writers of the same lobby.
var ErrUpdateContention = &Error{Kind: KindStoreUnavailable, Code: "update_contention", Msg: "lobby is too busy, retry"}

// UpdateFunc transforms the current snapshot into the next one. Returning a
// lobby with no players deletes it.
type UpdateFunc func(current *models.Lobby) (*models.Lobby, error)

// Store persists lobby snapshots with expiry plus an index of active lobby ids.
type Store interface {
	Put(ctx context.Context, l *models.Lobby) error
	// Get returns found=false for a missing or expired lobby.
	Get(ctx context.Context, id string) (l *models.Lobby, found bool, err error)
	Delete(ctx context.Context, id string) error
	ListActiveIDs(ctx context.Context) ([]string, error)
	AddActiveID(ctx context.Context, id string) error
	RemoveActiveID(ctx context.Context, id string) error
	// Update is a version-checked read-modify-write of one lobby.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Lobby, error)
}

// RedisStore keeps each snapshot as JSON under lobby:{id} and the active
// index in the set lobby:active.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore returns a store over rdb. A zero ttl means DefaultTTL.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func lobbyKey(id string) string { return keyPrefix + id }

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// Put writes the snapshot and resets its TTL.
func (s *RedisStore) Put(ctx context.Context, l *models.Lobby) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lobby %s: %w", l.ID, err)
	}
	if err := s.rdb.Set(ctx, lobbyKey(l.ID), data, s.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Lobby, bool, error) {
	data, err := s.rdb.Get(ctx, lobbyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	l, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Delete removes the snapshot. Deleting a missing lobby is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, lobbyKey(id)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

func (s *RedisStore) AddActiveID(ctx context.Context, id string) error {
	if err := s.rdb.SAdd(ctx, activeSetKey, id).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) RemoveActiveID(ctx context.Context, id string) error {
	if err := s.rdb.SRem(ctx, activeSetKey, id).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Update watches the lobby key, applies fn and commits only if nobody wrote
// the key in between; on a lost race it re-reads and re-applies fn.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Lobby, error) {
	key := lobbyKey(id)
	var result *models.Lobby

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return callbackError{ErrLobbyNotFound}
		}
		if err != nil {
			return err
		}
		current, err := decode(data)
		if err != nil {
			return callbackError{err}
		}

		next, err := fn(current)
		if err != nil {
			return callbackError{err}
		}
		next.Version = current.Version + 1

		if len(next.Players) == 0 {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, activeSetKey, id)
				return nil
			})
		} else {
			payload, merr := json.Marshal(next)
			if merr != nil {
				return callbackError{fmt.Errorf("marshal lobby %s: %w", id, merr)}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
		}
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		var cbErr callbackError
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.As(err, &cbErr):
			return nil, cbErr.err
		default:
			return nil, unavailable(err)
		}
	}
	return nil, ErrUpdateContention
}

// callbackError marks failures raised by our own code inside a WATCH
// transaction so they are not reported as store outages.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }
func (e callbackError) Unwrap() error { return e.err }

func decode(data []byte) (*models.Lobby, error) {
	var l models.Lobby
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode lobby snapshot: %w", err)
	}
	return &l, nil
}
