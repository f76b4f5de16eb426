// Package db archives presented comments in Postgres: connection helper,
// embedded schema migrations and the comment store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/commentcast/comment"
)

// ErrNoDSN is returned by Connect when no DSN is configured.
var ErrNoDSN = errors.New("db: dsn not configured")

// Connect opens a Postgres pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Record is one archived comment.
type Record struct {
	ID          int64          `json:"id"`
	Source      comment.Source `json:"source"`
	Number      string         `json:"number,omitempty"`
	Name        string         `json:"name"`
	Text        string         `json:"text"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	IsArt       bool           `json:"isArt,omitempty"`
	ThreadURL   string         `json:"threadUrl,omitempty"`
	PresentedAt time.Time      `json:"presentedAt"`
}

// Store writes presented comments to the comments table.
type Store struct {
	DB *sql.DB
	// Now stamps archived rows; time.Now when nil.
	Now func() time.Time
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Archive inserts cs in one transaction. Comments keep their escaped text.
func (s *Store) Archive(ctx context.Context, threadURL string, cs []comment.Comment) (err error) {
	if len(cs) == 0 {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("archive rollback failed", slog.Any("err", rbErr), slog.String("component", "archive"))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO comments (source, number, name, text, image_url, is_art, thread_url, presented_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`)
	if err != nil {
		return fmt.Errorf("prepare archive: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	at := now().UTC()
	for _, c := range cs {
		// only bbs rows belong to the thread
		thread := ""
		if c.Source == comment.SourceBBS {
			thread = threadURL
		}
		if _, err = stmt.ExecContext(ctx, string(c.Source), c.Number, c.Name, c.Text, c.ImageURL, c.IsArt, thread, at); err != nil {
			return fmt.Errorf("archive comment: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// Recent returns up to limit archived comments, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, source, number, name, text, image_url, is_art, thread_url, presented_at
		FROM comments ORDER BY presented_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err), slog.String("component", "archive"))
		}
	}()
	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var src string
		if err := rows.Scan(&r.ID, &src, &r.Number, &r.Name, &r.Text, &r.ImageURL, &r.IsArt, &r.ThreadURL, &r.PresentedAt); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		r.Source = comment.Source(src)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }
