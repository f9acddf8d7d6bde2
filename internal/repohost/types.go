// Package repohost is the repository host adapter. It speaks the GitHub
// REST v3 API over plain HTTP: commit and pull-request listings, repository
// inventory, and user resolution. Per-repository loops log and skip failed
// repositories so one bad repo never sinks a multi-repo query.
package repohost

import "time"

// Commit is one commit as surfaced to the rest of the system.
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	Author     string    `json:"author"`
	Date       time.Time `json:"date"`
	URL        string    `json:"url"`
	Repository string    `json:"repository"`
}

// PullRequest is one pull request. Merged is derived from MergedAt because
// the list API does not carry a merged flag.
type PullRequest struct {
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	State      string     `json:"state"`
	Author     string     `json:"author"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	URL        string     `json:"url"`
	Repository string     `json:"repository"`
	Merged     bool       `json:"merged"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
}

// Repository is one repository's summary record.
type Repository struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Private     bool      `json:"private"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	UpdatedAt   time.Time `json:"updated_at"`
	URL         string    `json:"url"`
}

// Contributor is one contributor to a repository.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
	URL           string `json:"url"`
}

// Release is one published release.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// Branch is one branch head.
type Branch struct {
	Name      string `json:"name"`
	Protected bool   `json:"protected"`
}

// RepositoryDetails is a full single-repository fetch. Each cross-reference
// degrades independently to an empty list.
type RepositoryDetails struct {
	Repository
	Contributors []Contributor  `json:"contributors"`
	Releases     []Release      `json:"releases"`
	Branches     []Branch       `json:"branches"`
	Languages    map[string]int `json:"languages"`
}

// UserInfo is one resolved host identity.
type UserInfo struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	URL         string `json:"url"`
}

// CommitFilter narrows a commit or pull-request listing. The commit API
// accepts author/since/until/branch server-side; the pull-request list API
// cannot combine those constraints, so they are applied client-side.
type CommitFilter struct {
	Author string
	Since  time.Time
	Until  time.Time
	Branch string
}

// Activity is the combined result of a recent-activity sweep.
type Activity struct {
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pull_requests"`
	Repositories []string      `json:"repositories"`
}
