package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite ledger.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// SQLite implements Ledger on an embedded SQLite database.
//
// The pool is capped at one connection: SQLite is a single-writer engine,
// and the single connection also serializes concurrent increments for the
// same user without any app-level locking.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database, applies pragmas and migrations.
func Open(cfg Config, log zerolog.Logger) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("ledger: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLite{db: db, log: log}
	if err := l.applyPragmas(cfg.BusyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: pragmas: %w", err)
	}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: migrations: %w", err)
	}
	return l, nil
}

func (l *SQLite) applyPragmas(busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	if busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := l.db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (l *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, string(b))
	return err
}

func (l *SQLite) Close() error {
	return l.db.Close()
}

func (l *SQLite) Register(ctx context.Context, userID int64) error {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO users (user_id, total_count, created_at)
		VALUES (?, 0, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("ledger: register %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.log.Debug().Int64("user_id", userID).Msg("user registered")
	}
	return nil
}

func (l *SQLite) Increment(ctx context.Context, userID int64, amount int) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: negative amount %d", amount)
	}
	// Single statement keeps the read-modify-write atomic under any pool
	// size; no row means the user was never registered.
	var total int64
	err := l.db.QueryRowContext(ctx, `
		UPDATE users
		SET total_count = total_count + ?
		WHERE user_id = ?
		RETURNING total_count`,
		amount, userID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownUser
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: increment %d: %w", userID, err)
	}
	return total, nil
}

func (l *SQLite) Total(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx,
		`SELECT total_count FROM users WHERE user_id = ?`, userID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: total %d: %w", userID, err)
	}
	return total, nil
}

func (l *SQLite) AllUsers(ctx context.Context) ([]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT user_id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("ledger: all users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
