package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teampulse/internal/intent"
	"teampulse/internal/repohost"
	"teampulse/internal/tracker"
)

func newExecutor(t *testing.T, trackerHandler, hostHandler http.Handler) *Executor {
	t.Helper()
	trackerSrv := httptest.NewServer(trackerHandler)
	t.Cleanup(trackerSrv.Close)
	hostSrv := httptest.NewServer(hostHandler)
	t.Cleanup(hostSrv.Close)

	tc := tracker.NewClient(tracker.Config{
		BaseURL: trackerSrv.URL, Email: "bot@example.com", APIToken: "t",
		CacheTTL: time.Nanosecond,
	}, nil, nil)
	hc := repohost.NewClient(repohost.Config{
		BaseURL: hostSrv.URL, Token: "t", Organization: "acme",
		CacheTTL: time.Nanosecond,
	}, nil, nil)
	return New(tc, hc, nil)
}

func issueJSON(key string) string {
	return `{"key":"` + key + `","fields":{"summary":"s","status":{"name":"Done"},"created":"2024-06-01T10:00:00.000+0000","updated":"2024-06-10T10:00:00.000+0000"}}`
}

func TestExecuteRejectsNonExecutablePlans(t *testing.T) {
	e := newExecutor(t, http.NotFoundHandler(), http.NotFoundHandler())

	_, err := e.Execute(context.Background(), &intent.Plan{Relevant: false})
	assert.Error(t, err)

	_, err = e.Execute(context.Background(), &intent.Plan{
		Relevant:   true,
		Operations: []intent.OperationStep{{Tool: "bogus.tool"}},
	})
	assert.ErrorIs(t, err, intent.ErrUnknownTool)
}

func TestExecuteIsolatesStepFailures(t *testing.T) {
	trackerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/search":
			_, _ = w.Write([]byte(`{"total":1,"issues":[` + issueJSON("PROJ-1") + `]}`))
		case "/rest/api/3/project":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/orgs/acme/repos" {
			_, _ = w.Write([]byte(`[{"name":"api"}]`))
			return
		}
		http.NotFound(w, r)
	})
	e := newExecutor(t, trackerHandler, hostHandler)

	plan := &intent.Plan{
		Relevant: true,
		Operations: []intent.OperationStep{
			{Tool: intent.ToolSearchIssues, Filters: map[string]any{"assignee": "ada"}, OutputKeys: []string{"issues"}},
			{Tool: intent.ToolListProjects, OutputKeys: []string{"projects"}},
			{Tool: intent.ToolRepositories, OutputKeys: []string{"repos"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)

	require.Len(t, bundle.Issues, 1)
	assert.Equal(t, []string{"api"}, bundle.Repositories)
	require.Len(t, bundle.StepErrors, 1)
	assert.Contains(t, bundle.StepErrors["projects"], "HTTP 500")
}

func TestExecuteSubstitutesOutputKeys(t *testing.T) {
	var activityAssignees []string
	trackerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/3/user/search":
			_, _ = w.Write([]byte(`[{"accountId":"a1","displayName":"Ada Lovelace","active":true}]`))
		case "/rest/api/3/search":
			jql := r.URL.Query().Get("jql")
			activityAssignees = append(activityAssignees, jql)
			_, _ = w.Write([]byte(`{"total":1,"issues":[` + issueJSON("PROJ-2") + `]}`))
		default:
			http.NotFound(w, r)
		}
	})
	e := newExecutor(t, trackerHandler, http.NotFoundHandler())

	plan := &intent.Plan{
		Relevant: true,
		Operations: []intent.OperationStep{
			{Tool: intent.ToolSearchUsers, Filters: map[string]any{"query": "ada"}, OutputKeys: []string{"users"}},
			{Tool: intent.ToolTrackerActivity, Filters: map[string]any{"members": "{users}", "days": float64(7)}, OutputKeys: []string{"activity"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, bundle.StepErrors)
	require.Len(t, activityAssignees, 1)
	assert.Contains(t, activityAssignees[0], `assignee = "Ada Lovelace"`)
	assert.Len(t, bundle.Users, 1)
	assert.Len(t, bundle.Issues, 1)
}

func TestExecuteActivityOverviewDeduplicates(t *testing.T) {
	trackerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/3/search" {
			// Every member search returns the same issue.
			_, _ = w.Write([]byte(`{"total":1,"issues":[` + issueJSON("PROJ-7") + `]}`))
			return
		}
		http.NotFound(w, r)
	})
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orgs/acme/repos":
			_, _ = w.Write([]byte(`[{"name":"api"}]`))
		case "/repos/acme/api/commits":
			_, _ = w.Write([]byte(`[{"sha":"same","commit":{"message":"m","author":{"name":"Ada","date":"2024-06-10T10:00:00Z"}},"html_url":"u"}]`))
		case "/repos/acme/api/pulls":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	})
	e := newExecutor(t, trackerHandler, hostHandler)

	plan := &intent.Plan{
		Relevant: true,
		Members:  []string{"Ada Lovelace", "Ada L"},
		Operations: []intent.OperationStep{
			{Tool: intent.ToolActivityOverview, Filters: map[string]any{"days": float64(7)}, OutputKeys: []string{"activity"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, bundle.Issues, 1)
	assert.Len(t, bundle.Commits, 1)
	assert.Equal(t, 1, bundle.Counts["issues"])
	assert.Equal(t, 1, bundle.Counts["commits"])
}

func TestExecutePullRequestStateFilter(t *testing.T) {
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/api/pulls":
			_, _ = w.Write([]byte(`[
				{"number":1,"title":"open one","state":"open","user":{"login":"ada"},"created_at":"2024-06-10T10:00:00Z","updated_at":"2024-06-11T10:00:00Z","html_url":"u"},
				{"number":2,"title":"closed one","state":"closed","user":{"login":"ada"},"created_at":"2024-06-09T10:00:00Z","updated_at":"2024-06-10T10:00:00Z","html_url":"u"}
			]`))
		default:
			http.NotFound(w, r)
		}
	})
	e := newExecutor(t, http.NotFoundHandler(), hostHandler)

	plan := &intent.Plan{
		Relevant:     true,
		Repositories: []string{"api"},
		Operations: []intent.OperationStep{
			{Tool: intent.ToolPullRequests, Filters: map[string]any{"state": "open"}, OutputKeys: []string{"prs"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, bundle.PullRequests, 1)
	assert.Equal(t, 1, bundle.PullRequests[0].Number)
}

func TestExecuteAppliesTimeRangeUpperBound(t *testing.T) {
	var gotJQL, gotUntil string
	trackerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/3/search" {
			gotJQL = r.URL.Query().Get("jql")
			_, _ = w.Write([]byte(`{"total":0,"issues":[]}`))
			return
		}
		http.NotFound(w, r)
	})
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/api/commits" {
			gotUntil = r.URL.Query().Get("until")
			_, _ = w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	})
	e := newExecutor(t, trackerHandler, hostHandler)

	plan := &intent.Plan{
		Relevant:     true,
		Repositories: []string{"api"},
		TimeRange: intent.TimeRange{
			Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 6, 10, 17, 45, 0, 0, time.UTC),
		},
		Operations: []intent.OperationStep{
			{Tool: intent.ToolSearchIssues, Filters: map[string]any{"assignee": "ada"}, OutputKeys: []string{"issues"}},
			{Tool: intent.ToolCommits, OutputKeys: []string{"commits"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, bundle.StepErrors)
	assert.Contains(t, gotJQL, `updated <= "2024-06-10 17:45"`)
	assert.Equal(t, "2024-06-10T17:45:00Z", gotUntil)
}

func TestExecuteRepositoriesWithContributors(t *testing.T) {
	hostHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orgs/acme/repos":
			_, _ = w.Write([]byte(`[{"name":"api"},{"name":"web"}]`))
		case "/repos/acme/api/contributors":
			_, _ = w.Write([]byte(`[{"login":"ada","contributions":12,"html_url":"u"}]`))
		case "/repos/acme/web/contributors":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	e := newExecutor(t, http.NotFoundHandler(), hostHandler)

	plan := &intent.Plan{
		Relevant: true,
		Operations: []intent.OperationStep{
			{Tool: intent.ToolRepositories, Filters: map[string]any{"with_contributors": true}, OutputKeys: []string{"repos"}},
		},
	}

	bundle, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web"}, bundle.Repositories)
	require.Len(t, bundle.Contributors["api"], 1)
	assert.Equal(t, "ada", bundle.Contributors["api"][0].Login)
	// A repository whose contributor listing fails is skipped, not fatal.
	assert.NotContains(t, bundle.Contributors, "web")
	assert.Empty(t, bundle.StepErrors)
}

func TestSubstituteLeavesUnknownPlaceholders(t *testing.T) {
	filters := map[string]any{
		"author":  "{missing}",
		"members": []any{"{users}", "literal"},
	}
	outputs := map[string]any{"users": []string{"Ada"}}

	got := substitute(filters, outputs)
	assert.Equal(t, "{missing}", got["author"])
	list := got["members"].([]any)
	assert.Equal(t, []string{"Ada"}, list[0])
	assert.Equal(t, "literal", list[1])
}

func TestFilterCoercion(t *testing.T) {
	filters := map[string]any{
		"days":    float64(14),
		"members": []any{"a", "b"},
		"flag":    false,
		"name":    []string{"first", "second"},
	}
	assert.Equal(t, 14, intFilter(filters, "days", 7))
	assert.Equal(t, 7, intFilter(filters, "absent", 7))
	assert.Equal(t, []string{"a", "b"}, stringsFilter(filters, "members", nil))
	assert.False(t, boolFilter(filters, "flag", true))
	assert.True(t, boolFilter(filters, "absent", true))
	assert.Equal(t, "first", stringFilter(filters, "name", ""))
}
