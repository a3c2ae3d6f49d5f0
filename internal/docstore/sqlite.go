package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pinboard/internal/apperr"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents(parent);
`

// SQLite implements Store on a local SQLite database. Revisions are
// counted in process, so one process owns the database file.
type SQLite struct {
	conn *sql.DB
	hub  *hub
	rev  atomic.Uint64
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: apply schema: %w", err)
	}
	s := &SQLite{conn: conn}
	s.hub = newHub(s.load, logger)
	return s, nil
}

// Close stops all subscriptions and closes the database.
func (s *SQLite) Close() error {
	s.hub.close()
	return s.conn.Close()
}

// Create inserts a document with a generated id.
func (s *SQLite) Create(ctx context.Context, parent string, fields Fields) (string, error) {
	res, err := s.Commit(ctx, []Op{CreateOp(parent, fields)})
	if err != nil {
		return "", err
	}
	return res.IDs[0], nil
}

// Update merges fields into an existing document.
func (s *SQLite) Update(ctx context.Context, path string, fields Fields) error {
	_, err := s.Commit(ctx, []Op{UpdateOp(path, fields)})
	return err
}

// Delete removes a document.
func (s *SQLite) Delete(ctx context.Context, path string) error {
	_, err := s.Commit(ctx, []Op{DeleteOp(path)})
	return err
}

// Commit applies ops in a single transaction.
func (s *SQLite) Commit(ctx context.Context, ops []Op) (Result, error) {
	if err := validateOps(ops); err != nil {
		return Result{}, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	ids := make([]string, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpCreate:
			id := NewID()
			body, err := encodeFields(op.Fields)
			if err != nil {
				return Result{}, err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (path, parent, id, fields) VALUES (?, ?, ?, ?)`,
				Join(op.Path, id), op.Path, id, body); err != nil {
				return Result{}, fmt.Errorf("docstore: insert %s: %w", op.Path, err)
			}
			ids[i] = id

		case OpUpdate:
			var raw string
			err := tx.QueryRowContext(ctx, `SELECT fields FROM documents WHERE path = ?`, op.Path).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				return Result{}, fmt.Errorf("docstore: update %s: %w", op.Path, apperr.ErrNotFound)
			}
			if err != nil {
				return Result{}, fmt.Errorf("docstore: read %s: %w", op.Path, err)
			}
			body, err := encodeFields(merge(decodeFields(raw), op.Fields))
			if err != nil {
				return Result{}, err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE documents SET fields = ?, updated_at = CURRENT_TIMESTAMP WHERE path = ?`,
				body, op.Path); err != nil {
				return Result{}, fmt.Errorf("docstore: update %s: %w", op.Path, err)
			}

		case OpDelete:
			res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, op.Path)
			if err != nil {
				return Result{}, fmt.Errorf("docstore: delete %s: %w", op.Path, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return Result{}, fmt.Errorf("docstore: delete %s: %w", op.Path, apperr.ErrNotFound)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("docstore: commit: %w", err)
	}
	rev := s.rev.Add(1)
	s.hub.notify(parentsOf(ops)...)
	return Result{IDs: ids, Rev: rev}, nil
}

// Subscribe registers fn for snapshots of collection.
func (s *SQLite) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	return s.hub.subscribe(ctx, collection, fn)
}

func (s *SQLite) load(ctx context.Context, collection string) ([]Document, uint64, error) {
	rev := s.rev.Load()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, path, fields FROM documents WHERE parent = ? ORDER BY created_at, id`, collection)
	if err != nil {
		return nil, 0, fmt.Errorf("docstore: load %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var raw string
		if err := rows.Scan(&d.ID, &d.Path, &raw); err != nil {
			return nil, 0, err
		}
		d.Fields = decodeFields(raw)
		out = append(out, d)
	}
	return out, rev, rows.Err()
}

func encodeFields(f Fields) (string, error) {
	if f == nil {
		f = Fields{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("docstore: encode fields: %w", err)
	}
	return string(b), nil
}

// decodeFields never fails: unreadable bodies become empty field sets so
// readers fall back to zero values.
func decodeFields(raw string) Fields {
	var f Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil || f == nil {
		return Fields{}
	}
	return f
}
