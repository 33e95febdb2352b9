package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cexll/linguahome-go/pkg/sandbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	utterance  TEXT NOT NULL,
	script     TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
`

// SQLiteStore persists turn history in a single SQLite file. Appends are
// insert-only; no row is ever updated or deleted.
type SQLiteStore struct {
	db    *sql.DB
	rooms []string
}

// OpenSQLite opens (creating if needed) the turn database at path.
func OpenSQLite(path string, rooms []string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("memory: database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	// Serialized writes keep the append-only ordering simple under modernc.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, rooms: append([]string(nil), rooms...)}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append records one terminal turn.
func (s *SQLiteStore) Append(ctx context.Context, turn Turn) error {
	if strings.TrimSpace(turn.SessionID) == "" {
		return errors.New("memory: session id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, utterance, script, outcome, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Utterance, turn.Script,
		string(turn.Outcome), turn.Response, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("memory: append turn: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent turns in chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := `SELECT id, session_id, utterance, script, outcome, response, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query recent: %w", err)
	}
	defer rows.Close()

	var reversed []Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate recent: %w", err)
	}
	out := make([]Turn, len(reversed))
	for i, turn := range reversed {
		out[len(reversed)-1-i] = turn
	}
	return out, nil
}

// Facts derives the long-term facts from the full session history.
func (s *SQLiteStore) Facts(ctx context.Context, sessionID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, utterance, script, outcome, response, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory: query history: %w", err)
	}
	defer rows.Close()

	var history []Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate history: %w", err)
	}
	return DeriveFacts(s.rooms, history), nil
}

func scanTurn(rows *sql.Rows) (Turn, error) {
	var turn Turn
	var outcome string
	var createdAt int64
	if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Utterance, &turn.Script,
		&outcome, &turn.Response, &createdAt); err != nil {
		return Turn{}, fmt.Errorf("memory: scan turn: %w", err)
	}
	turn.Outcome = sandbox.Outcome(outcome)
	turn.CreatedAt = time.Unix(0, createdAt).UTC()
	return turn, nil
}
