// Package session holds per-conversation state: the append-only turn
// buffer the intent resolver reads, the manager that serializes turns per
// session, and the SQLite store that makes threads durable.
package session

import (
	"sync"
	"time"

	"teampulse/internal/intent"
)

// Turn is one immutable conversation entry.
type Turn struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	PlanSummary string    `json:"plan_summary,omitempty"`
	ErrMessage  string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Memory is an ordered, append-only turn buffer. Appends never mutate
// existing turns; rehydration is replaying appends in original order.
type Memory struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewMemory creates an empty buffer.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds one turn to the end of the buffer.
func (m *Memory) Append(turn Turn) {
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()
}

// History returns the turns as resolver messages, oldest first.
func (m *Memory) History() []intent.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]intent.Message, 0, len(m.turns))
	for _, t := range m.turns {
		history = append(history, intent.Message{Role: t.Role, Text: t.Text})
	}
	return history
}

// Turns returns a copy of the buffer, oldest first.
func (m *Memory) Turns() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Len is the number of turns.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Clear drops all turns.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.turns = nil
	m.mu.Unlock()
}
