// Package session issues and tracks anonymous viewer sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one viewer of the gallery.
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Repository handles session persistence.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new session Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a session row and returns it.
func (r *Repository) Create(ctx context.Context, id string) (*Session, error) {
	s := &Session{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO sessions (id) VALUES ($1)
		 RETURNING id::text, created_at, last_seen_at`,
		id,
	).Scan(&s.ID, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Touch bumps last_seen_at.
func (r *Repository) Touch(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET last_seen_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdle removes sessions not seen since before cutoff.
func (r *Repository) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
