// internal/lobby/coordinator.go
package lobby

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/sirupsen/logrus"
)

// ResultPublisher receives the result of every finished race.
type ResultPublisher interface {
	PublishRaceResult(ctx context.Context, result models.RaceResult) error
}

// Coordinator runs every lobby operation as load -> transition -> store
// against a Store. It holds no lobby state of its own.
type Coordinator struct {
	Store     Store
	Publisher ResultPublisher
	Log       logrus.FieldLogger

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// NewCoordinator returns a Coordinator over store.
func NewCoordinator(store Store, logger logrus.FieldLogger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		Store: store,
		Log:   logger,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return uuid.NewString() },
	}
}

// CreateLobby stores a new waiting lobby hosted by p.HostID.
func (c *Coordinator) CreateLobby(ctx context.Context, p CreateParams) (*models.Lobby, error) {
	l, err := NewLobby(c.NewID(), p, c.Now())
	if err != nil {
		return nil, err
	}
	l.Version = 1
	if err := c.Store.Put(ctx, l); err != nil {
		return nil, err
	}
	if err := c.Store.AddActiveID(ctx, l.ID); err != nil {
		// the snapshot exists but is unlisted until the index write succeeds
		c.Log.WithFields(logrus.Fields{"lobby_id": l.ID}).Warnf("failed to index lobby: %v", err)
	}
	c.Log.WithFields(logrus.Fields{"lobby_id": l.ID, "user_id": p.HostID}).Info("lobby created")
	return l, nil
}

// GetLobby returns the current snapshot or ErrLobbyNotFound.
func (c *Coordinator) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	l, found, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrLobbyNotFound
	}
	return l, nil
}

func (c *Coordinator) JoinLobby(ctx context.Context, id, userID, userName, password string) (*models.Lobby, error) {
	return c.apply(ctx, id, Join{UserID: userID, UserName: userName, Password: password})
}

// LeaveLobby removes the player. When the last player leaves the lobby is
// deleted and the returned snapshot has no players.
func (c *Coordinator) LeaveLobby(ctx context.Context, id, userID string) (*models.Lobby, error) {
	return c.apply(ctx, id, Leave{UserID: userID})
}

func (c *Coordinator) SetReady(ctx context.Context, id, userID string, ready bool) (*models.Lobby, error) {
	return c.apply(ctx, id, SetReady{UserID: userID, Ready: ready})
}

// StartGame starts the race. requestedBy may be empty for trusted callers.
func (c *Coordinator) StartGame(ctx context.Context, id, requestedBy, textSnippetID string) (*models.Lobby, error) {
	return c.apply(ctx, id, StartGame{RequestedBy: requestedBy, TextSnippetID: textSnippetID})
}

func (c *Coordinator) UpdateProgress(ctx context.Context, id, userID string, progress, wpm, accuracy float64) (*models.Lobby, error) {
	return c.apply(ctx, id, UpdateProgress{UserID: userID, Progress: progress, WPM: wpm, Accuracy: accuracy})
}

func (c *Coordinator) PlayerFinished(ctx context.Context, id, userID string, finalWPM, finalAccuracy float64) (*models.Lobby, error) {
	return c.apply(ctx, id, Finish{UserID: userID, FinalWPM: finalWPM, FinalAccuracy: finalAccuracy})
}

func (c *Coordinator) AddChatMessage(ctx context.Context, id, userID, userName, text string) (*models.Lobby, error) {
	return c.apply(ctx, id, AddChatMessage{UserID: userID, UserName: userName, Text: text})
}

// GetChatMessages returns the chat window of a lobby, oldest first.
func (c *Coordinator) GetChatMessages(ctx context.Context, id string) ([]models.ChatMessage, error) {
	l, err := c.GetLobby(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.ChatMessages, nil
}

// ListActiveLobbies returns every indexed lobby that still exists, oldest
// first. Ids whose snapshot expired are dropped from the index.
func (c *Coordinator) ListActiveLobbies(ctx context.Context) ([]*models.Lobby, error) {
	ids, err := c.Store.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	lobbies := make([]*models.Lobby, 0, len(ids))
	for _, id := range ids {
		l, found, err := c.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			if err := c.Store.RemoveActiveID(ctx, id); err != nil {
				c.Log.WithField("lobby_id", id).Warnf("failed to prune expired lobby: %v", err)
			}
			continue
		}
		lobbies = append(lobbies, l)
	}
	sort.Slice(lobbies, func(i, j int) bool {
		return lobbies[i].CreatedAt.Before(lobbies[j].CreatedAt)
	})
	return lobbies, nil
}

// DeleteLobby removes the lobby and its index entry.
func (c *Coordinator) DeleteLobby(ctx context.Context, id string) error {
	_, found, err := c.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrLobbyNotFound
	}
	if err := c.Store.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.Store.RemoveActiveID(ctx, id); err != nil {
		return err
	}
	c.Log.WithField("lobby_id", id).Info("lobby deleted")
	return nil
}

// Outcome describes what a single applied action did to a lobby.
type Outcome struct {
	Lobby *models.Lobby
	// Deleted is set when the action removed the last player.
	Deleted bool
	// RaceFinished is set when the action moved the lobby to finished.
	RaceFinished bool
}

// Do applies a to the stored lobby id and reports the outcome.
func (c *Coordinator) Do(ctx context.Context, id string, a Action) (Outcome, error) {
	var before models.LobbyStatus
	next, err := c.Store.Update(ctx, id, func(current *models.Lobby) (*models.Lobby, error) {
		before = current.Status
		return Apply(current, a, c.Now())
	})
	fields := logrus.Fields{"lobby_id": id, "action": a.Name()}
	if err != nil {
		if KindOf(err) == KindStoreUnavailable || KindOf(err) == KindUnknown {
			c.Log.WithFields(fields).Errorf("lobby action failed: %v", err)
		} else {
			c.Log.WithFields(fields).Debugf("lobby action rejected: %v", err)
		}
		return Outcome{}, err
	}

	out := Outcome{
		Lobby:        next,
		Deleted:      len(next.Players) == 0,
		RaceFinished: before != models.StatusFinished && next.Status == models.StatusFinished,
	}
	if out.Deleted {
		c.Log.WithFields(fields).Info("lobby empty, deleted")
	}
	if out.RaceFinished {
		c.publishResult(ctx, next)
	}
	return out, nil
}

func (c *Coordinator) apply(ctx context.Context, id string, a Action) (*models.Lobby, error) {
	out, err := c.Do(ctx, id, a)
	if err != nil {
		return nil, err
	}
	return out.Lobby, nil
}

func (c *Coordinator) publishResult(ctx context.Context, l *models.Lobby) {
	if c.Publisher == nil {
		return
	}
	if err := c.Publisher.PublishRaceResult(ctx, models.NewRaceResult(l)); err != nil {
		c.Log.WithField("lobby_id", l.ID).Warnf("failed to publish race result: %v", err)
		return
	}
	c.Log.WithField("lobby_id", l.ID).Infof("race finished with %d finishers", l.FinishCount)
}
