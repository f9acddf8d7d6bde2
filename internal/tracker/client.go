package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"teampulse/internal/cache"
)

// Config holds tracker connection parameters.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client is the issue tracker adapter. A client built without credentials
// is valid: every method degrades to empty results so callers can treat
// "no tracker configured" uniformly as "zero results".
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
	cache      *cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a tracker client. results is the shared cache; nil
// disables memoization.
func NewClient(cfg Config, results *cache.Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if results == nil {
		results = cache.New(0)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		email:      cfg.Email,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		cache:      results,
		cacheTTL:   ttl,
		logger:     logger.Named("tracker"),
		now:        time.Now,
	}
}

// Configured reports whether connection parameters are present.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.email != "" && c.apiToken != ""
}

// SearchIssues searches issues matching the filter, newest-updated first,
// capped at maxResults. An email-form assignee is resolved to an account ID
// first because JQL does not match on email text.
func (c *Client) SearchIssues(ctx context.Context, f Filter, maxResults int) (SearchResult, error) {
	if !c.Configured() {
		return SearchResult{}, nil
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	if strings.Contains(f.Assignee, "@") {
		if users, err := c.SearchUsers(ctx, f.Assignee, 1); err == nil && len(users) > 0 {
			f.Assignee = users[0].AccountID
		}
	}

	jql := BuildJQL(f, c.now())
	key := cache.Key("tracker.search_issues", jql, maxResults)

	return cache.GetOr(c.cache, key, c.cacheTTL, func() (SearchResult, error) {
		return c.searchJQL(ctx, jql, maxResults)
	})
}

// RecentActivity returns issues updated in the last days. With more than
// one member it fans out one search per member and concatenates: the query
// language has no reliable "assignee in (unresolved names)" form.
func (c *Client) RecentActivity(ctx context.Context, days int, members []string) (SearchResult, error) {
	if days <= 0 {
		days = 7
	}
	since := c.now().AddDate(0, 0, -days)

	if len(members) == 0 {
		return c.SearchIssues(ctx, Filter{UpdatedAfter: since}, 50)
	}

	var all []Issue
	for _, member := range members {
		res, err := c.SearchIssues(ctx, Filter{Assignee: member, UpdatedAfter: since}, 50)
		if err != nil {
			c.logger.Warn("recent activity search failed, skipping member",
				zap.String("member", member), zap.Error(err))
			continue
		}
		all = append(all, res.Issues...)
	}
	return SearchResult{Issues: all, TotalCount: len(all), FilteredCount: len(all)}, nil
}

// Projects lists all projects visible to the configured account.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	if !c.Configured() {
		return nil, nil
	}
	key := cache.Key("tracker.projects")
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]Project, error) {
		var raw []struct {
			Key  string `json:"key"`
			Name string `json:"name"`
			ID   string `json:"id"`
			Lead *struct {
				DisplayName string `json:"displayName"`
			} `json:"lead"`
		}
		if err := c.getJSON(ctx, "/rest/api/3/project", url.Values{"expand": {"lead"}}, &raw); err != nil {
			return nil, err
		}
		projects := make([]Project, 0, len(raw))
		for _, p := range raw {
			project := Project{Key: p.Key, Name: p.Name, ID: p.ID}
			if p.Lead != nil {
				project.Lead = p.Lead.DisplayName
			}
			projects = append(projects, project)
		}
		return projects, nil
	})
}

// ProjectUsers lists users assignable to issues in the given project.
func (c *Client) ProjectUsers(ctx context.Context, projectKey string, maxResults int) ([]User, error) {
	if !c.Configured() {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	key := cache.Key("tracker.project_users", projectKey, maxResults)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]User, error) {
		params := url.Values{
			"project":    {projectKey},
			"maxResults": {strconv.Itoa(maxResults)},
		}
		var raw []apiUser
		if err := c.getJSON(ctx, "/rest/api/3/user/assignable/search", params, &raw); err != nil {
			return nil, err
		}
		return convertUsers(raw), nil
	})
}

// SearchUsers finds users by partial name or email.
func (c *Client) SearchUsers(ctx context.Context, query string, maxResults int) ([]User, error) {
	if !c.Configured() {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	key := cache.Key("tracker.search_users", query, maxResults)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]User, error) {
		params := url.Values{
			"query":      {query},
			"maxResults": {strconv.Itoa(maxResults)},
		}
		var raw []apiUser
		if err := c.getJSON(ctx, "/rest/api/3/user/search", params, &raw); err != nil {
			return nil, err
		}
		return convertUsers(raw), nil
	})
}

// IssueDetails fetches one issue with its comments and transitions. Either
// cross-reference failing degrades to an empty list rather than failing the
// fetch. found=false means the issue does not exist or is not accessible.
func (c *Client) IssueDetails(ctx context.Context, issueKey string) (IssueDetails, bool, error) {
	if !c.Configured() {
		return IssueDetails{}, false, nil
	}
	key := cache.Key("tracker.issue_details", issueKey)
	details, err := cache.GetOr(c.cache, key, c.cacheTTL, func() (IssueDetails, error) {
		var raw apiIssue
		err := c.getJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(issueKey), nil, &raw)
		if err != nil {
			return IssueDetails{}, err
		}
		details := IssueDetails{Issue: c.convertIssue(raw)}

		var comments struct {
			Comments []struct {
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Body    json.RawMessage `json:"body"`
				Created string          `json:"created"`
			} `json:"comments"`
		}
		if err := c.getJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(issueKey)+"/comment", nil, &comments); err != nil {
			c.logger.Debug("comments not accessible", zap.String("issue", issueKey), zap.Error(err))
		} else {
			for _, cm := range comments.Comments {
				details.Comments = append(details.Comments, Comment{
					Author:  cm.Author.DisplayName,
					Body:    flattenCommentBody(cm.Body),
					Created: cm.Created,
				})
			}
		}

		var transitions struct {
			Transitions []Transition `json:"transitions"`
		}
		if err := c.getJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(issueKey)+"/transitions", nil, &transitions); err != nil {
			c.logger.Debug("transitions not accessible", zap.String("issue", issueKey), zap.Error(err))
		} else {
			details.Transitions = transitions.Transitions
		}
		return details, nil
	})
	if err != nil {
		if isNotFound(err) {
			return IssueDetails{}, false, nil
		}
		return IssueDetails{}, false, err
	}
	return details, true, nil
}

// TestConnection verifies credentials by fetching the current user.
func (c *Client) TestConnection(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	var me struct {
		AccountID string `json:"accountId"`
	}
	if err := c.getJSON(ctx, "/rest/api/3/myself", nil, &me); err != nil {
		return false
	}
	return me.AccountID != ""
}

// --- wire plumbing ---

type apiUser struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

type apiIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  *struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		IssueType *struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Created     string          `json:"created"`
		Updated     string          `json:"updated"`
		Description json.RawMessage `json:"description"`
	} `json:"fields"`
}

func (c *Client) searchJQL(ctx context.Context, jql string, maxResults int) (SearchResult, error) {
	params := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {"summary,status,assignee,priority,issuetype,created,updated,description"},
	}
	var raw struct {
		Issues []apiIssue `json:"issues"`
		Total  int        `json:"total"`
	}
	if err := c.getJSON(ctx, "/rest/api/3/search", params, &raw); err != nil {
		return SearchResult{}, err
	}
	issues := make([]Issue, 0, len(raw.Issues))
	for _, i := range raw.Issues {
		issues = append(issues, c.convertIssue(i))
	}
	return SearchResult{
		Issues:        issues,
		TotalCount:    raw.Total,
		FilteredCount: len(issues),
	}, nil
}

func (c *Client) convertIssue(raw apiIssue) Issue {
	issue := Issue{
		Key:         raw.Key,
		Summary:     raw.Fields.Summary,
		Status:      "Unknown",
		Type:        "Unknown",
		Created:     parseTime(raw.Fields.Created),
		Updated:     parseTime(raw.Fields.Updated),
		Description: flattenCommentBody(raw.Fields.Description),
		URL:         c.baseURL + "/browse/" + raw.Key,
	}
	if raw.Fields.Status != nil {
		issue.Status = raw.Fields.Status.Name
	}
	if raw.Fields.Assignee != nil {
		issue.Assignee = raw.Fields.Assignee.DisplayName
	}
	if raw.Fields.Priority != nil {
		issue.Priority = raw.Fields.Priority.Name
	}
	if raw.Fields.IssueType != nil {
		issue.Type = raw.Fields.IssueType.Name
	}
	return issue
}

func convertUsers(raw []apiUser) []User {
	users := make([]User, 0, len(raw))
	for _, u := range raw {
		users = append(users, User{
			AccountID:   u.AccountID,
			DisplayName: u.DisplayName,
			Email:       u.EmailAddress,
			Active:      u.Active,
		})
	}
	return users
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read tracker response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode tracker response: %w", err)
	}
	return nil
}

var errNotFound = fmt.Errorf("tracker: not found")

func isNotFound(err error) bool {
	return err == errNotFound || (err != nil && strings.Contains(err.Error(), "not found"))
}

// parseTime handles both RFC3339 and the tracker's legacy offset layout.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// flattenCommentBody extracts plain text from either a bare string or the
// tracker's rich-text document format.
func flattenCommentBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc struct {
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range doc.Content {
		for _, inline := range block.Content {
			sb.WriteString(inline.Text)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// SetClock overrides the time source. Test hook.
func (c *Client) SetClock(now func() time.Time) { c.now = now }
