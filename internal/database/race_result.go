package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/typerace/internal/models"
)

// ResultSink persists race standings into race_results.
type ResultSink struct {
	pool *pgxpool.Pool
}

func NewResultSink(pool *pgxpool.Pool) *ResultSink {
	return &ResultSink{pool: pool}
}

const insertStandingQ = `
	INSERT INTO race_results (
		lobby_id, user_id, user_name, position,
		final_wpm, final_accuracy, finished_at, text_snippet_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (lobby_id, user_id) DO NOTHING
`

// WriteResults stores every standing of every result in a single transaction.
// Replayed results are ignored.
func (s *ResultSink) WriteResults(ctx context.Context, results []models.RaceResult) error {
	return beginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range results {
			for _, st := range r.Standings {
				batch.Queue(insertStandingQ,
					r.LobbyID, st.UserID, st.UserName, st.Position,
					st.FinalWPM, st.FinalAccuracy, st.FinishedAt, r.TextSnippetID,
				)
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert race results: %w", err)
		}
		return nil
	})
}

// CountResults returns how many standings are stored for a lobby.
func (s *ResultSink) CountResults(ctx context.Context, lobbyID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM race_results WHERE lobby_id=$1`, lobbyID).Scan(&n)
	return n, err
}
