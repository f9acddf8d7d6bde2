package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Thread is one durable conversation thread.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists threads and turns in SQLite. Deletion is soft so an
// accidentally deleted thread is recoverable by hand.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		plan_summary TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_thread ON turns(thread_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateThread inserts a new thread. An empty title gets a timestamped
// default.
func (s *Store) CreateThread(title string) (Thread, error) {
	now := time.Now().UTC()
	if title == "" {
		title = "Conversation " + now.Format("2006-01-02 15:04")
	}
	thread := Thread{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO threads (id, title, is_active, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		thread.ID, thread.Title, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil
}

// Thread fetches one active thread. found=false when it does not exist or
// was deleted.
func (s *Store) Thread(id string) (Thread, bool, error) {
	var t Thread
	err := s.db.QueryRow(
		`SELECT id, title, created_at, updated_at FROM threads WHERE id = ? AND is_active = 1`, id).
		Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return Thread{}, false, nil
	}
	if err != nil {
		return Thread{}, false, fmt.Errorf("fetch thread: %w", err)
	}
	return t, true, nil
}

// Threads lists active threads, most recently updated first.
func (s *Store) Threads(limit, offset int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, title, created_at, updated_at FROM threads
		 WHERE is_active = 1 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread soft-deletes a thread. Returns false when no active thread
// had that id.
func (s *Store) DeleteThread(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE threads SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("delete thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendTurn persists one turn at the end of the thread and bumps the
// thread's updated_at.
func (s *Store) AppendTurn(threadID string, turn Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE thread_id = ?`, threadID).Scan(&seq); err != nil {
		return fmt.Errorf("next turn seq: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO turns (id, thread_id, seq, role, text, plan_summary, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, threadID, seq, turn.Role, turn.Text, turn.PlanSummary, turn.ErrMessage, turn.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE threads SET updated_at = ? WHERE id = ?`, time.Now().UTC(), threadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return tx.Commit()
}

// ListTurns returns a thread's turns in append order.
func (s *Store) ListTurns(threadID string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, role, text, COALESCE(plan_summary, ''), COALESCE(error_message, ''), created_at
		 FROM turns WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Role, &t.Text, &t.PlanSummary, &t.ErrMessage, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
