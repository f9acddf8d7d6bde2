package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionBusy means a turn is already in flight on this session.
// Turns on one session are strictly serialized; the caller should retry
// after the current turn finishes.
var ErrSessionBusy = fmt.Errorf("session: a turn is already in progress")

// Session is one conversation's working state.
type Session struct {
	ID     string
	Memory *Memory

	busy bool
}

// Manager owns the live session map and enforces the one-in-flight-turn
// rule. A nil store disables persistence; sessions then live only in
// memory.
type Manager struct {
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. store may be nil.
func NewManager(store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		logger:   logger.Named("session"),
		sessions: map[string]*Session{},
	}
}

// Acquire returns the session for id, creating and rehydrating it on
// first use, and marks it busy. Callers must Release when the turn ends.
// A second Acquire while busy fails with ErrSessionBusy.
func (m *Manager) Acquire(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		sess = &Session{ID: id, Memory: NewMemory()}
		if err := m.rehydrate(sess); err != nil {
			return nil, err
		}
		m.sessions[id] = sess
	}
	if sess.busy {
		return nil, ErrSessionBusy
	}
	sess.busy = true
	return sess, nil
}

// Release marks the session's in-flight turn as finished.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		sess.busy = false
	}
	m.mu.Unlock()
}

// rehydrate replays persisted turns into fresh memory, in original order.
func (m *Manager) rehydrate(sess *Session) error {
	if m.store == nil {
		return nil
	}
	turns, err := m.store.ListTurns(sess.ID)
	if err != nil {
		return fmt.Errorf("rehydrate session %s: %w", sess.ID, err)
	}
	for _, turn := range turns {
		sess.Memory.Append(turn)
	}
	if len(turns) > 0 {
		m.logger.Debug("session rehydrated",
			zap.String("session", sess.ID), zap.Int("turns", len(turns)))
	}
	return nil
}

// RecordTurn appends a turn to the session's memory and, when a store is
// configured, persists it. The turn gets an id and timestamp here.
func (m *Manager) RecordTurn(sess *Session, role, text, planSummary, errMessage string) Turn {
	turn := Turn{
		ID:          uuid.NewString(),
		Role:        role,
		Text:        text,
		PlanSummary: planSummary,
		ErrMessage:  errMessage,
		CreatedAt:   time.Now().UTC(),
	}
	sess.Memory.Append(turn)
	if m.store != nil {
		if err := m.store.AppendTurn(sess.ID, turn); err != nil {
			// Memory already has the turn; losing durability is worth a
			// warning, not a failed response.
			m.logger.Warn("turn not persisted", zap.String("session", sess.ID), zap.Error(err))
		}
	}
	return turn
}

// Clear drops a session's in-memory working state. Persisted history is
// untouched; the next Acquire rehydrates from the store.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// ClearMemory empties a session's buffer without touching persistence,
// for "forget this conversation so far" semantics within a live session.
func (m *Manager) ClearMemory(id string) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		sess.Memory.Clear()
	}
	m.mu.Unlock()
}
