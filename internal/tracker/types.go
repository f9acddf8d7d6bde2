// Package tracker is the issue tracker adapter. It speaks the Jira REST v3
// API over plain HTTP and exposes the uniform query surface the plan
// executor dispatches against: search, recent activity, user resolution,
// and entity details. Expensive reads are memoized through the shared
// result cache at the call site.
package tracker

import "time"

// Issue is one tracked work item.
type Issue struct {
	Key         string    `json:"key"`
	Summary     string    `json:"summary"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Type        string    `json:"issue_type"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
}

// Filter narrows an issue search. Absent fields are omitted from the
// constraint set; present fields are ANDed.
type Filter struct {
	ProjectKey    string
	Assignee      string
	Status        string
	IssueType     string
	CreatedAfter  time.Time
	UpdatedAfter  time.Time
	UpdatedBefore time.Time
}

// IsEmpty reports whether no constraint is set.
func (f Filter) IsEmpty() bool {
	return f.ProjectKey == "" && f.Assignee == "" && f.Status == "" &&
		f.IssueType == "" && f.CreatedAfter.IsZero() && f.UpdatedAfter.IsZero() &&
		f.UpdatedBefore.IsZero()
}

// SearchResult is the outcome of one issue search.
type SearchResult struct {
	Issues        []Issue `json:"issues"`
	TotalCount    int     `json:"total_count"`
	FilteredCount int     `json:"filtered_count"`
}

// Project is one tracker project.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	ID   string `json:"id"`
	Lead string `json:"lead,omitempty"`
}

// User is one tracker identity.
type User struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`
}

// Comment is one issue comment.
type Comment struct {
	Author  string `json:"author"`
	Body    string `json:"body"`
	Created string `json:"created"`
}

// Transition is one workflow transition available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IssueDetails is a full single-issue fetch including cross-references.
type IssueDetails struct {
	Issue
	Comments    []Comment    `json:"comments"`
	Transitions []Transition `json:"transitions"`
}
