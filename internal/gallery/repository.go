package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radif/gallery/internal/db"
)

// Record is one row of upload history.
type Record struct {
	ObjectKey    string     `json:"objectKey"`
	OriginalName string     `json:"originalName"`
	ContentType  string     `json:"contentType"`
	Size         int64      `json:"size"`
	SessionID    string     `json:"sessionId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// Ledger records uploads. Reserve claims an object key before any bytes are
// written and must return ErrDuplicateKey when the key is already claimed.
type Ledger interface {
	Reserve(ctx context.Context, rec Record) error
	Release(ctx context.Context, key string) error
	MarkDeleted(ctx context.Context, key string) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
}

// Repository is the Postgres Ledger.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Reserve inserts the upload row; the unique object_key makes concurrent uploads
// of the same generated name fail here instead of overwriting each other.
func (r *Repository) Reserve(ctx context.Context, rec Record) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO uploads (object_key, original_name, content_type, size, session_id)
		 VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid)`,
		rec.ObjectKey, rec.OriginalName, rec.ContentType, rec.Size, rec.SessionID,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// Release drops a reservation whose upload never completed.
func (r *Repository) Release(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM uploads WHERE object_key = $1 AND deleted_at IS NULL`, key)
	if err != nil {
		return fmt.Errorf("release upload: %w", err)
	}
	return nil
}

// MarkDeleted stamps deleted_at on the upload row.
func (r *Repository) MarkDeleted(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE uploads SET deleted_at = now() WHERE object_key = $1 AND deleted_at IS NULL`, key)
	if err != nil {
		return fmt.Errorf("mark upload deleted: %w", err)
	}
	return nil
}

// Recent returns the session's newest uploads first.
func (r *Repository) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	rows, err := r.db.Query(ctx,
		`SELECT object_key, original_name, content_type, size,
		        COALESCE(session_id::text, ''), created_at, deleted_at
		 FROM uploads
		 WHERE session_id = $1::uuid
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ObjectKey, &rec.OriginalName, &rec.ContentType, &rec.Size,
			&rec.SessionID, &rec.CreatedAt, &rec.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return out, nil
}
