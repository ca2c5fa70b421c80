package copyledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

const schema = `
CREATE TABLE IF NOT EXISTS copies (
	repository TEXT NOT NULL,
	tag        TEXT NOT NULL,
	build_id   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (repository, tag)
)`

// SQLiteLedger is a Ledger backed by a local sqlite database.
type SQLiteLedger struct {
	db *sql.DB
}

var _ Ledger = (*SQLiteLedger)(nil)

// OpenSQLite opens or creates the sqlite copy-state database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q failed: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating copies table failed: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) FindBuildForCopy(ctx context.Context, repo owlconfig.Repository, tag string) (string, error) {
	var buildID string

	err := l.db.QueryRowContext(
		ctx,
		"SELECT build_id FROM copies WHERE repository = ? AND tag = ?",
		repo.String(), tag,
	).Scan(&buildID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying copy record failed: %w", err)
	}

	return buildID, nil
}

func (l *SQLiteLedger) RecordBuildForCopy(ctx context.Context, repo owlconfig.Repository, tag, buildID string) error {
	_, err := l.db.ExecContext(
		ctx,
		"INSERT INTO copies (repository, tag, build_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		repo.String(), tag, buildID,
	)
	if err != nil {
		return fmt.Errorf("recording copy failed: %w", err)
	}

	return nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
