package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The generation SDK linked via the intent package starts an opencensus
	// stats worker at init that never exits; it is not ours to stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryAppendOrder(t *testing.T) {
	m := NewMemory()
	m.Append(Turn{Role: "user", Text: "first"})
	m.Append(Turn{Role: "assistant", Text: "second"})

	history := m.History()
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "assistant", history[1].Role)

	m.Clear()
	assert.Zero(t, m.Len())
}

func TestStoreThreadLifecycle(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateThread("standup notes")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, found, err := store.Thread(created.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "standup notes", got.Title)

	threads, err := store.Threads(10, 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	deleted, err := store.DeleteThread(created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err = store.Thread(created.ID)
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = store.DeleteThread(created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestStoreTurnsKeepOrder(t *testing.T) {
	store := newTestStore(t)
	thread, err := store.CreateThread("")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		err := store.AppendTurn(thread.ID, Turn{
			ID: uuid.NewString(), Role: "user", Text: text, CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	turns, err := store.ListTurns(thread.ID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Text)
	assert.Equal(t, "three", turns[2].Text)
}

func TestManagerSerializesTurns(t *testing.T) {
	m := NewManager(nil, nil)

	sess, err := m.Acquire("s1")
	require.NoError(t, err)

	_, err = m.Acquire("s1")
	assert.ErrorIs(t, err, ErrSessionBusy)

	m.Release(sess.ID)
	_, err = m.Acquire("s1")
	require.NoError(t, err)
	m.Release(sess.ID)
}

func TestManagerConcurrentAcquireAdmitsExactlyOne(t *testing.T) {
	m := NewManager(nil, nil)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, busy := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire("shared")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if err == ErrSessionBusy {
				busy++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, n-1, busy)
}

func TestManagerRehydratesFromStore(t *testing.T) {
	store := newTestStore(t)
	thread, err := store.CreateThread("")
	require.NoError(t, err)

	m := NewManager(store, nil)
	sess, err := m.Acquire(thread.ID)
	require.NoError(t, err)
	m.RecordTurn(sess, "user", "who closed PROJ-1?", "", "")
	m.RecordTurn(sess, "assistant", "Ada did.", "1 op", "")
	m.Release(sess.ID)

	// Drop working state; a fresh manager must replay from the store.
	fresh := NewManager(store, nil)
	rehydrated, err := fresh.Acquire(thread.ID)
	require.NoError(t, err)
	defer fresh.Release(rehydrated.ID)

	history := rehydrated.Memory.History()
	require.Len(t, history, 2)
	assert.Equal(t, "who closed PROJ-1?", history[0].Text)
	assert.Equal(t, "Ada did.", history[1].Text)
}

func TestManagerClearDropsWorkingStateOnly(t *testing.T) {
	store := newTestStore(t)
	thread, err := store.CreateThread("")
	require.NoError(t, err)

	m := NewManager(store, nil)
	sess, err := m.Acquire(thread.ID)
	require.NoError(t, err)
	m.RecordTurn(sess, "user", "hello", "", "")
	m.Release(sess.ID)

	m.Clear(thread.ID)

	sess, err = m.Acquire(thread.ID)
	require.NoError(t, err)
	defer m.Release(sess.ID)
	assert.Equal(t, 1, sess.Memory.Len(), "persisted history survives Clear")
}
