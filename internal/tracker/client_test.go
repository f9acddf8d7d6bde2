package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:  srv.URL,
		Email:    "bot@example.com",
		APIToken: "token",
	}, nil, nil)
	return c, srv
}

func TestSearchIssuesUnconfigured(t *testing.T) {
	c := NewClient(Config{}, nil, nil)
	res, err := c.SearchIssues(context.Background(), Filter{ProjectKey: "PROJ"}, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
}

func TestSearchIssuesSendsJQL(t *testing.T) {
	var gotJQL, gotMax string
	var gotUser, gotPass string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/search", r.URL.Path)
		gotJQL = r.URL.Query().Get("jql")
		gotMax = r.URL.Query().Get("maxResults")
		gotUser, gotPass, _ = r.BasicAuth()
		_, _ = w.Write([]byte(`{
			"total": 1,
			"issues": [{
				"key": "PROJ-42",
				"fields": {
					"summary": "Fix login",
					"status": {"name": "In Progress"},
					"assignee": {"displayName": "Ada"},
					"issuetype": {"name": "Bug"},
					"created": "2024-06-01T10:00:00.000+0000",
					"updated": "2024-06-10T10:00:00.000+0000"
				}
			}]
		}`))
	}))
	c.SetClock(func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) })

	res, err := c.SearchIssues(context.Background(), Filter{ProjectKey: "PROJ"}, 25)
	require.NoError(t, err)

	assert.Equal(t, "project = PROJ order by updated DESC", gotJQL)
	assert.Equal(t, "25", gotMax)
	assert.Equal(t, "bot@example.com", gotUser)
	assert.Equal(t, "token", gotPass)

	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, "PROJ-42", issue.Key)
	assert.Equal(t, "In Progress", issue.Status)
	assert.Equal(t, "Ada", issue.Assignee)
	assert.Equal(t, "Bug", issue.Type)
	assert.Contains(t, issue.URL, "/browse/PROJ-42")
	assert.Equal(t, 1, res.TotalCount)
}

func TestSearchIssuesResolvesEmailAssignee(t *testing.T) {
	var searchJQL string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/user/search":
			assert.Equal(t, "ada@example.com", r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(`[{"accountId":"acct-ada","displayName":"Ada","active":true}]`))
		case "/rest/api/3/search":
			searchJQL = r.URL.Query().Get("jql")
			_, _ = w.Write([]byte(`{"total":0,"issues":[]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	_, err := c.SearchIssues(context.Background(), Filter{Assignee: "ada@example.com"}, 10)
	require.NoError(t, err)
	assert.Contains(t, searchJQL, `assignee = "acct-ada"`)
}

func TestSearchIssuesMemoized(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"total":0,"issues":[]}`))
	}))

	for i := 0; i < 3; i++ {
		_, err := c.SearchIssues(context.Background(), Filter{ProjectKey: "PROJ"}, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestRecentActivityFansOutPerMember(t *testing.T) {
	var jqls []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jqls = append(jqls, r.URL.Query().Get("jql"))
		_, _ = w.Write([]byte(`{
			"total": 1,
			"issues": [{"key": "PROJ-1", "fields": {"summary": "x", "created": "2024-06-01T10:00:00.000+0000", "updated": "2024-06-10T10:00:00.000+0000"}}]
		}`))
	}))
	c.SetClock(func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) })

	res, err := c.RecentActivity(context.Background(), 7, []string{"acct-a", "acct-b"})
	require.NoError(t, err)

	require.Len(t, jqls, 2)
	assert.Contains(t, jqls[0], `assignee = "acct-a"`)
	assert.Contains(t, jqls[1], `assignee = "acct-b"`)
	assert.Len(t, res.Issues, 2)
}

func TestRecentActivitySkipsFailingMember(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("jql"), "acct-bad") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{
			"total": 1,
			"issues": [{"key": "PROJ-2", "fields": {"summary": "y", "created": "2024-06-01T10:00:00.000+0000", "updated": "2024-06-10T10:00:00.000+0000"}}]
		}`))
	}))

	res, err := c.RecentActivity(context.Background(), 7, []string{"acct-bad", "acct-good"})
	require.NoError(t, err)
	assert.Len(t, res.Issues, 1)
}

func TestProjects(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/project", r.URL.Path)
		assert.Equal(t, "lead", r.URL.Query().Get("expand"))
		_, _ = w.Write([]byte(`[
			{"key":"PROJ","name":"Project","id":"10001","lead":{"displayName":"Grace"}},
			{"key":"OPS","name":"Operations","id":"10002"}
		]`))
	}))

	projects, err := c.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Grace", projects[0].Lead)
	assert.Empty(t, projects[1].Lead)
}

func TestIssueDetailsNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, found, err := c.IssueDetails(context.Background(), "PROJ-999")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIssueDetailsDegradedCrossRefs(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/issue/PROJ-1":
			_, _ = w.Write([]byte(`{"key":"PROJ-1","fields":{"summary":"it","status":{"name":"Done"},"created":"2024-06-01T10:00:00.000+0000","updated":"2024-06-02T10:00:00.000+0000"}}`))
		case "/rest/api/3/issue/PROJ-1/comment":
			w.WriteHeader(http.StatusForbidden)
		case "/rest/api/3/issue/PROJ-1/transitions":
			_, _ = w.Write([]byte(`{"transitions":[{"id":"11","name":"To Do"}]}`))
		}
	}))

	details, found, err := c.IssueDetails(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Done", details.Status)
	assert.Empty(t, details.Comments)
	require.Len(t, details.Transitions, 1)
	assert.Equal(t, "To Do", details.Transitions[0].Name)
}

func TestTestConnection(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/3/myself", r.URL.Path)
		_, _ = w.Write([]byte(`{"accountId":"acct-me"}`))
	}))
	assert.True(t, c.TestConnection(context.Background()))

	unconfigured := NewClient(Config{}, nil, nil)
	assert.False(t, unconfigured.TestConnection(context.Background()))
}

func TestFlattenCommentBody(t *testing.T) {
	assert.Equal(t, "plain", flattenCommentBody([]byte(`"plain"`)))
	doc := []byte(`{"content":[{"content":[{"text":"first "},{"text":"line"}]},{"content":[{"text":"second"}]}]}`)
	assert.Equal(t, "first line\nsecond", flattenCommentBody(doc))
	assert.Empty(t, flattenCommentBody(nil))
}
