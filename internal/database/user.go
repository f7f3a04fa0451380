package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when the users table has no row for an id.
var ErrUserNotFound = errors.New("user not found")

// Directory resolves display names from the users table.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// UserName returns the username stored for userID.
func (d *Directory) UserName(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return "", ErrUserNotFound
	}
	var name string
	err = d.pool.QueryRow(ctx, `SELECT username FROM users WHERE id=$1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return name, nil
}
