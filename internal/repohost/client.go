package repohost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"teampulse/internal/cache"
)

// Per-repository listing caps. Deep history belongs in a dedicated sync
// job, not in an interactive query path.
const (
	maxCommitsPerRepo = 30
	maxPRsPerRepo     = 30
)

// Config holds repo host connection parameters. Organization selects
// org-scoped repository listing; empty means the authenticated user's repos.
type Config struct {
	BaseURL      string
	Token        string
	Organization string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// Client is the repo host adapter. Like the tracker client, an unconfigured
// client is valid and degrades every method to empty results.
type Client struct {
	baseURL      string
	token        string
	organization string
	httpClient   *http.Client
	cache        *cache.Cache
	cacheTTL     time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu    sync.Mutex
	login string // authenticated user, resolved lazily
}

// NewClient creates a repo host client. results is the shared cache; nil
// disables memoization.
func NewClient(cfg Config, results *cache.Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
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
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        cfg.Token,
		organization: cfg.Organization,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        results,
		cacheTTL:     ttl,
		logger:       logger.Named("repohost"),
		now:          time.Now,
	}
}

// Configured reports whether a token is present.
func (c *Client) Configured() bool {
	return c.token != ""
}

// Repositories lists repository names for the configured organization, or
// for the authenticated user when no organization is set.
func (c *Client) Repositories(ctx context.Context) ([]string, error) {
	if !c.Configured() {
		return nil, nil
	}
	key := cache.Key("repohost.repositories", c.organization)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]string, error) {
		repos, err := c.listRepositories(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(repos))
		for _, r := range repos {
			names = append(names, r.Name)
		}
		return names, nil
	})
}

// RepositoryList lists repositories with their summary records.
func (c *Client) RepositoryList(ctx context.Context) ([]Repository, error) {
	if !c.Configured() {
		return nil, nil
	}
	key := cache.Key("repohost.repository_list", c.organization)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]Repository, error) {
		return c.listRepositories(ctx)
	})
}

// Commits lists commits across the given repositories, newest first, capped
// at maxCommitsPerRepo each. A failing repository is logged and skipped.
// limit > 0 truncates the merged result after sorting.
func (c *Client) Commits(ctx context.Context, repositories []string, f CommitFilter, limit int) ([]Commit, error) {
	if !c.Configured() {
		return nil, nil
	}

	var all []Commit
	for _, repo := range repositories {
		commits, err := c.repoCommits(ctx, repo, f)
		if err != nil {
			c.logger.Warn("commit listing failed, skipping repository",
				zap.String("repository", repo), zap.Error(err))
			continue
		}
		all = append(all, commits...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// PullRequests lists pull requests across the given repositories, most
// recently updated first. Author and since constraints are applied
// client-side against the per-repo window.
func (c *Client) PullRequests(ctx context.Context, repositories []string, f CommitFilter, limit int) ([]PullRequest, error) {
	if !c.Configured() {
		return nil, nil
	}

	var all []PullRequest
	for _, repo := range repositories {
		prs, err := c.repoPullRequests(ctx, repo)
		if err != nil {
			c.logger.Warn("pull request listing failed, skipping repository",
				zap.String("repository", repo), zap.Error(err))
			continue
		}
		for _, pr := range prs {
			if f.Author != "" && !strings.EqualFold(pr.Author, f.Author) {
				continue
			}
			if !f.Since.IsZero() && pr.UpdatedAt.Before(f.Since) {
				continue
			}
			if !f.Until.IsZero() && pr.UpdatedAt.After(f.Until) {
				continue
			}
			all = append(all, pr)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// RecentActivities sweeps commits and pull requests over the last days.
// With usernames it fans out one pass per author and concatenates. Empty
// repositories means all repositories visible to the client.
func (c *Client) RecentActivities(ctx context.Context, usernames []string, days int, includeCommits, includePRs bool, repositories []string) (Activity, error) {
	if !c.Configured() {
		return Activity{}, nil
	}
	if days <= 0 {
		days = 7
	}
	if len(repositories) == 0 {
		var err error
		repositories, err = c.Repositories(ctx)
		if err != nil {
			return Activity{}, err
		}
	}
	since := c.now().AddDate(0, 0, -days)

	activity := Activity{Repositories: repositories}
	sweep := func(f CommitFilter) {
		if includeCommits {
			commits, err := c.Commits(ctx, repositories, f, 0)
			if err != nil {
				c.logger.Warn("activity commit sweep failed", zap.String("author", f.Author), zap.Error(err))
			} else {
				activity.Commits = append(activity.Commits, commits...)
			}
		}
		if includePRs {
			prs, err := c.PullRequests(ctx, repositories, f, 0)
			if err != nil {
				c.logger.Warn("activity pull request sweep failed", zap.String("author", f.Author), zap.Error(err))
			} else {
				activity.PullRequests = append(activity.PullRequests, prs...)
			}
		}
	}

	if len(usernames) == 0 {
		sweep(CommitFilter{Since: since})
	} else {
		for _, username := range usernames {
			sweep(CommitFilter{Author: username, Since: since})
		}
	}
	return activity, nil
}

// RepositoryDetails fetches one repository with its contributors, releases,
// branches, and language breakdown. Each cross-reference degrades
// independently. found=false means the repository does not exist or is not
// accessible.
func (c *Client) RepositoryDetails(ctx context.Context, repository string) (RepositoryDetails, bool, error) {
	if !c.Configured() {
		return RepositoryDetails{}, false, nil
	}
	key := cache.Key("repohost.repository_details", repository)
	details, err := cache.GetOr(c.cache, key, c.cacheTTL, func() (RepositoryDetails, error) {
		owner, err := c.owner(ctx)
		if err != nil {
			return RepositoryDetails{}, err
		}
		base := "/repos/" + owner + "/" + url.PathEscape(repository)

		var raw apiRepository
		if err := c.getJSON(ctx, base, nil, &raw); err != nil {
			return RepositoryDetails{}, err
		}
		details := RepositoryDetails{Repository: convertRepository(raw)}

		var contributors []struct {
			Login         string `json:"login"`
			Contributions int    `json:"contributions"`
			HTMLURL       string `json:"html_url"`
		}
		if err := c.getJSON(ctx, base+"/contributors", nil, &contributors); err != nil {
			c.logger.Debug("contributors not accessible", zap.String("repository", repository), zap.Error(err))
		} else {
			for _, contrib := range contributors {
				details.Contributors = append(details.Contributors, Contributor{
					Login:         contrib.Login,
					Contributions: contrib.Contributions,
					URL:           contrib.HTMLURL,
				})
			}
		}

		var releases []struct {
			TagName     string    `json:"tag_name"`
			Name        string    `json:"name"`
			PublishedAt time.Time `json:"published_at"`
			HTMLURL     string    `json:"html_url"`
		}
		if err := c.getJSON(ctx, base+"/releases", nil, &releases); err != nil {
			c.logger.Debug("releases not accessible", zap.String("repository", repository), zap.Error(err))
		} else {
			for _, rel := range releases {
				details.Releases = append(details.Releases, Release{
					TagName:     rel.TagName,
					Name:        rel.Name,
					PublishedAt: rel.PublishedAt,
					URL:         rel.HTMLURL,
				})
			}
		}

		var branches []Branch
		if err := c.getJSON(ctx, base+"/branches", nil, &branches); err != nil {
			c.logger.Debug("branches not accessible", zap.String("repository", repository), zap.Error(err))
		} else {
			details.Branches = branches
		}

		languages := map[string]int{}
		if err := c.getJSON(ctx, base+"/languages", nil, &languages); err != nil {
			c.logger.Debug("languages not accessible", zap.String("repository", repository), zap.Error(err))
		} else {
			details.Languages = languages
		}
		return details, nil
	})
	if err != nil {
		if isNotFound(err) {
			return RepositoryDetails{}, false, nil
		}
		return RepositoryDetails{}, false, err
	}
	return details, true, nil
}

// Contributors lists one repository's contributors.
func (c *Client) Contributors(ctx context.Context, repository string) ([]Contributor, error) {
	if !c.Configured() {
		return nil, nil
	}
	key := cache.Key("repohost.contributors", repository)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]Contributor, error) {
		owner, err := c.owner(ctx)
		if err != nil {
			return nil, err
		}
		var raw []struct {
			Login         string `json:"login"`
			Contributions int    `json:"contributions"`
			HTMLURL       string `json:"html_url"`
		}
		path := "/repos/" + owner + "/" + url.PathEscape(repository) + "/contributors"
		if err := c.getJSON(ctx, path, nil, &raw); err != nil {
			return nil, err
		}
		contributors := make([]Contributor, 0, len(raw))
		for _, item := range raw {
			contributors = append(contributors, Contributor{
				Login:         item.Login,
				Contributions: item.Contributions,
				URL:           item.HTMLURL,
			})
		}
		return contributors, nil
	})
}

// ResolveUser fetches a host identity by username; empty username means the
// authenticated user. found=false means no such user.
func (c *Client) ResolveUser(ctx context.Context, username string) (UserInfo, bool, error) {
	if !c.Configured() {
		return UserInfo{}, false, nil
	}
	path := "/user"
	if username != "" {
		path = "/users/" + url.PathEscape(username)
	}
	key := cache.Key("repohost.user", username)
	info, err := cache.GetOr(c.cache, key, c.cacheTTL, func() (UserInfo, error) {
		var raw struct {
			Login       string `json:"login"`
			Name        string `json:"name"`
			Email       string `json:"email"`
			Company     string `json:"company"`
			Location    string `json:"location"`
			PublicRepos int    `json:"public_repos"`
			Followers   int    `json:"followers"`
			HTMLURL     string `json:"html_url"`
		}
		if err := c.getJSON(ctx, path, nil, &raw); err != nil {
			return UserInfo{}, err
		}
		return UserInfo{
			Login:       raw.Login,
			Name:        raw.Name,
			Email:       raw.Email,
			Company:     raw.Company,
			Location:    raw.Location,
			PublicRepos: raw.PublicRepos,
			Followers:   raw.Followers,
			URL:         raw.HTMLURL,
		}, nil
	})
	if err != nil {
		if isNotFound(err) {
			return UserInfo{}, false, nil
		}
		return UserInfo{}, false, err
	}
	return info, true, nil
}

// TestConnection verifies the token by fetching the authenticated user.
func (c *Client) TestConnection(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	login, err := c.authenticatedLogin(ctx)
	return err == nil && login != ""
}

// --- wire plumbing ---

type apiRepository struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Private     bool      `json:"private"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	UpdatedAt   time.Time `json:"updated_at"`
	HTMLURL     string    `json:"html_url"`
}

func convertRepository(raw apiRepository) Repository {
	return Repository{
		Name:        raw.Name,
		FullName:    raw.FullName,
		Private:     raw.Private,
		Description: raw.Description,
		Language:    raw.Language,
		Stars:       raw.Stars,
		Forks:       raw.Forks,
		UpdatedAt:   raw.UpdatedAt,
		URL:         raw.HTMLURL,
	}
}

func (c *Client) listRepositories(ctx context.Context) ([]Repository, error) {
	path := "/user/repos"
	if c.organization != "" {
		path = "/orgs/" + url.PathEscape(c.organization) + "/repos"
	}
	var raw []apiRepository
	if err := c.getJSON(ctx, path, url.Values{"per_page": {"100"}}, &raw); err != nil {
		return nil, err
	}
	repos := make([]Repository, 0, len(raw))
	for _, r := range raw {
		repos = append(repos, convertRepository(r))
	}
	return repos, nil
}

// repoCommits lists one repository's commit window. Memoized with
// day-granular time bounds so a multi-user sweep within the same day
// shares entries per author.
func (c *Client) repoCommits(ctx context.Context, repository string, f CommitFilter) ([]Commit, error) {
	key := cache.Key("repohost.commits", repository, f.Author, dayKey(f.Since), dayKey(f.Until), f.Branch)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]Commit, error) {
		return c.fetchRepoCommits(ctx, repository, f)
	})
}

func (c *Client) fetchRepoCommits(ctx context.Context, repository string, f CommitFilter) ([]Commit, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{"per_page": {strconv.Itoa(maxCommitsPerRepo)}}
	if f.Author != "" {
		params.Set("author", f.Author)
	}
	if !f.Since.IsZero() {
		params.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		params.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.Branch != "" {
		params.Set("sha", f.Branch)
	}

	var raw []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
		HTMLURL string `json:"html_url"`
	}
	path := "/repos/" + owner + "/" + url.PathEscape(repository) + "/commits"
	if err := c.getJSON(ctx, path, params, &raw); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(raw))
	for _, item := range raw {
		commits = append(commits, Commit{
			SHA:        item.SHA,
			Message:    item.Commit.Message,
			Author:     item.Commit.Author.Name,
			Date:       item.Commit.Author.Date,
			URL:        item.HTMLURL,
			Repository: repository,
		})
	}
	return commits, nil
}

// repoPullRequests lists one repository's recently-updated pull requests.
// The listing takes no narrowing parameters, so a fan-out over N authors
// would otherwise hit the same endpoint N times per repository.
func (c *Client) repoPullRequests(ctx context.Context, repository string) ([]PullRequest, error) {
	key := cache.Key("repohost.pull_requests", repository)
	return cache.GetOr(c.cache, key, c.cacheTTL, func() ([]PullRequest, error) {
		return c.fetchRepoPullRequests(ctx, repository)
	})
}

func (c *Client) fetchRepoPullRequests(ctx context.Context, repository string) ([]PullRequest, error) {
	owner, err := c.owner(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"desc"},
		"per_page":  {strconv.Itoa(maxPRsPerRepo)},
	}

	var raw []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		CreatedAt time.Time  `json:"created_at"`
		UpdatedAt time.Time  `json:"updated_at"`
		MergedAt  *time.Time `json:"merged_at"`
		HTMLURL   string     `json:"html_url"`
	}
	path := "/repos/" + owner + "/" + url.PathEscape(repository) + "/pulls"
	if err := c.getJSON(ctx, path, params, &raw); err != nil {
		return nil, err
	}

	prs := make([]PullRequest, 0, len(raw))
	for _, item := range raw {
		prs = append(prs, PullRequest{
			Number:     item.Number,
			Title:      item.Title,
			State:      item.State,
			Author:     item.User.Login,
			CreatedAt:  item.CreatedAt,
			UpdatedAt:  item.UpdatedAt,
			URL:        item.HTMLURL,
			Repository: repository,
			Merged:     item.MergedAt != nil,
			MergedAt:   item.MergedAt,
		})
	}
	return prs, nil
}

// owner is the repo path prefix: the organization when configured,
// otherwise the authenticated user's login.
func (c *Client) owner(ctx context.Context) (string, error) {
	if c.organization != "" {
		return url.PathEscape(c.organization), nil
	}
	login, err := c.authenticatedLogin(ctx)
	if err != nil {
		return "", err
	}
	return url.PathEscape(login), nil
}

func (c *Client) authenticatedLogin(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.login
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var me struct {
		Login string `json:"login"`
	}
	if err := c.getJSON(ctx, "/user", nil, &me); err != nil {
		return "", err
	}
	if me.Login == "" {
		return "", fmt.Errorf("repohost: empty login for authenticated user")
	}

	c.mu.Lock()
	c.login = me.Login
	c.mu.Unlock()
	return me.Login, nil
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
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("repohost request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read repohost response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repohost %s: HTTP %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode repohost response: %w", err)
	}
	return nil
}

// dayKey renders a time bound at day granularity for cache keys; zero
// times render empty so unbounded and bounded listings never collide.
func dayKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

var errNotFound = fmt.Errorf("repohost: not found")

func isNotFound(err error) bool {
	return err == errNotFound
}

// SetClock overrides the time source. Test hook.
func (c *Client) SetClock(now func() time.Time) { c.now = now }
