package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teampulse/internal/repohost"
	"teampulse/internal/session"
	"teampulse/internal/snapshot"
	"teampulse/internal/tracker"
)

type scriptedModel struct {
	responses []string
	calls     int
}

func (f *scriptedModel) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *scriptedModel) CompleteWithSystem(_ context.Context, _, _ string) (string, error) {
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

var testNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

func newTestAgent(t *testing.T, model *scriptedModel) *Agent {
	t.Helper()
	trackerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/search":
			_, _ = w.Write([]byte(`{"total":1,"issues":[{"key":"PROJ-1","fields":{
				"summary":"Fix login","status":{"name":"Done"},
				"assignee":{"displayName":"Ada Lovelace"},
				"created":"2024-06-01T10:00:00.000+0000","updated":"2024-06-10T10:00:00.000+0000"}}]}`))
		case "/rest/api/3/project":
			_, _ = w.Write([]byte(`[{"key":"PROJ","name":"Project","id":"1"}]`))
		case "/rest/api/3/user/assignable/search":
			_, _ = w.Write([]byte(`[{"accountId":"a1","displayName":"Ada Lovelace","emailAddress":"ada@example.com","active":true}]`))
		case "/rest/api/3/myself":
			_, _ = w.Write([]byte(`{"accountId":"me"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(trackerSrv.Close)

	hostSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orgs/acme/repos":
			_, _ = w.Write([]byte(`[{"name":"api"}]`))
		case "/repos/acme/api/commits":
			_, _ = w.Write([]byte(`[{"sha":"abc1234","commit":{"message":"fix: login","author":{"name":"Ada","date":"2024-06-10T10:00:00Z"}},"html_url":"u"}]`))
		case "/repos/acme/api/pulls":
			_, _ = w.Write([]byte(`[]`))
		case "/repos/acme/api/contributors":
			_, _ = w.Write([]byte(`[{"login":"ada","contributions":5}]`))
		case "/user":
			_, _ = w.Write([]byte(`{"login":"bot"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(hostSrv.Close)

	tc := tracker.NewClient(tracker.Config{
		BaseURL: trackerSrv.URL, Email: "bot@example.com", APIToken: "t", CacheTTL: time.Nanosecond,
	}, nil, nil)
	hc := repohost.NewClient(repohost.Config{
		BaseURL: hostSrv.URL, Token: "t", Organization: "acme", CacheTTL: time.Nanosecond,
	}, nil, nil)

	opts := Options{
		Tracker:   tc,
		RepoHost:  hc,
		Sessions:  session.NewManager(nil, nil),
		Snapshots: snapshot.NewBuilder(tc, hc, time.Hour, nil),
	}
	if model != nil {
		opts.Model = model
	}
	return New(opts)
}

func TestProcessQueryFullTurn(t *testing.T) {
	model := &scriptedModel{responses: []string{
		// Intent resolution, then synthesis.
		`{"is_relevant": true, "intent": "activity for Ada",
		  "operations": [{"tool": "activity.overview", "action": "get activity",
			"filters": {"members": ["Ada Lovelace"], "days": 7}, "output_keys": ["activity"]}],
		  "members": ["Ada Lovelace"],
		  "time_range": {"start": null, "end": null, "label": "last week"}}`,
		"Ada fixed the login bug and pushed one commit.",
	}}
	a := newTestAgent(t, model)

	result, err := a.ProcessQuery(context.Background(), "s1", "what did ada do last week?", testNow)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Ada fixed the login bug and pushed one commit.", result.Response)
	assert.Contains(t, result.PlanSummary, "1 operation(s)")
	assert.False(t, result.Degraded)
}

func TestProcessQueryRejection(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"is_relevant": false, "operations": [],
		  "error": {"error": "not relevant", "reasoning": "cooking is out of scope"}}`,
	}}
	a := newTestAgent(t, model)

	result, err := a.ProcessQuery(context.Background(), "s1", "best lasagna recipe?", testNow)
	require.NoError(t, err)

	assert.True(t, result.Success, "rejection is a handled outcome")
	assert.Contains(t, result.Response, "cooking is out of scope")
	assert.Empty(t, result.PlanSummary)
}

func TestProcessQueryUnknownToolFails(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"is_relevant": true, "intent": "x",
		  "operations": [{"tool": "nope.nothing", "action": "?"}]}`,
	}}
	a := newTestAgent(t, model)

	result, err := a.ProcessQuery(context.Background(), "s1", "do the thing", testNow)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "unknown tool")
}

func TestProcessQueryWithoutModelDegrades(t *testing.T) {
	a := newTestAgent(t, nil)

	result, err := a.ProcessQuery(context.Background(), "s1", "show commits by ada this week", testNow)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Response, "commit")
}

func TestProcessQueryAppendsBothTurns(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"is_relevant": false, "operations": [],
		  "error": {"error": "no", "reasoning": "off topic"}}`,
	}}
	sessions := session.NewManager(nil, nil)
	a := newTestAgent(t, model)
	a.sessions = sessions

	_, err := a.ProcessQuery(context.Background(), "s1", "hello there", testNow)
	require.NoError(t, err)

	sess, err := sessions.Acquire("s1")
	require.NoError(t, err)
	defer sessions.Release("s1")
	history := sess.Memory.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "hello there", history[0].Text)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestProcessQuerySessionBusy(t *testing.T) {
	a := newTestAgent(t, nil)

	sess, err := a.sessions.Acquire("busy")
	require.NoError(t, err)

	_, err = a.ProcessQuery(context.Background(), "busy", "anything", testNow)
	require.Error(t, err)
	assert.True(t, IsSessionBusy(err))

	a.sessions.Release(sess.ID)
}

func TestHealth(t *testing.T) {
	a := newTestAgent(t, &scriptedModel{responses: []string{"ok"}})

	h := a.Health(context.Background())
	assert.True(t, h.TrackerOK)
	assert.True(t, h.RepoOK)
	assert.True(t, h.ModelOK)

	unconfigured := New(Options{
		Tracker:   tracker.NewClient(tracker.Config{}, nil, nil),
		RepoHost:  repohost.NewClient(repohost.Config{}, nil, nil),
		Sessions:  session.NewManager(nil, nil),
		Snapshots: snapshot.NewBuilder(tracker.NewClient(tracker.Config{}, nil, nil), repohost.NewClient(repohost.Config{}, nil, nil), time.Hour, nil),
	})
	h = unconfigured.Health(context.Background())
	assert.False(t, h.TrackerOK)
	assert.False(t, h.RepoOK)
	assert.False(t, h.ModelOK)
}
