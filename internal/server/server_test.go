package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teampulse/internal/agent"
	"teampulse/internal/repohost"
	"teampulse/internal/session"
	"teampulse/internal/snapshot"
	"teampulse/internal/tracker"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := session.OpenStore(filepath.Join(t.TempDir(), "srv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tc := tracker.NewClient(tracker.Config{}, nil, nil)
	hc := repohost.NewClient(repohost.Config{}, nil, nil)
	a := agent.New(agent.Options{
		Tracker:   tc,
		RepoHost:  hc,
		Sessions:  session.NewManager(store, nil),
		Snapshots: snapshot.NewBuilder(tc, hc, time.Hour, nil),
	})
	return New(a, store, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, created := doJSON(t, s, http.MethodPost, "/api/threads", `{"title":"weekly sync"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	rec, got := doJSON(t, s, http.MethodGet, "/api/threads/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weekly sync", got["title"])

	rec, list := doJSON(t, s, http.MethodGet, "/api/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, list["threads"], 1)

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/threads/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/threads/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageProcessesTurn(t *testing.T) {
	s := newTestServer(t)

	rec, created := doJSON(t, s, http.MethodPost, "/api/threads", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := created["id"].(string)

	// No model and no adapters configured: the deterministic path still
	// answers.
	rec, result := doJSON(t, s, http.MethodPost, "/api/threads/"+id+"/messages",
		`{"message":"what commits landed this week?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["response"])

	rec, msgs := doJSON(t, s, http.MethodGet, "/api/threads/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, msgs["messages"], 2)
}

func TestPostMessageValidation(t *testing.T) {
	s := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/threads/t1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/threads/t1/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageUnknownThread(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/threads/no-such-thread/messages",
		`{"message":"what happened this week?"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "thread not found", body["error"])

	// The rejected turn must not be persisted anywhere.
	rec, msgs := doJSON(t, s, http.MethodGet, "/api/threads/no-such-thread/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, msgs["messages"], 0)
}

func TestClearMemory(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/api/threads/t1/clear-memory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cleared"])
}

func TestHealthUnconfigured(t *testing.T) {
	s := newTestServer(t)
	rec, health := doJSON(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, health["tracker_ok"])
	assert.Equal(t, false, health["repo_ok"])
}
