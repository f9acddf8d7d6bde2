// Package executor runs a resolved plan's operation list against the
// source adapters and assembles the activity bundle the synthesizer
// consumes. Steps run strictly in order; a step failure is recorded and
// execution continues, because a partial answer beats no answer.
package executor

import (
	"strconv"

	"teampulse/internal/repohost"
	"teampulse/internal/tracker"
)

// Bundle is the accumulated result of one plan execution. StepErrors maps
// a failed step's output key to what went wrong; the synthesizer mentions
// material gaps.
type Bundle struct {
	Issues            []tracker.Issue                   `json:"issues,omitempty"`
	IssueDetails      []tracker.IssueDetails            `json:"issue_details,omitempty"`
	Projects          []tracker.Project                 `json:"projects,omitempty"`
	Users             []tracker.User                    `json:"users,omitempty"`
	Commits           []repohost.Commit                 `json:"commits,omitempty"`
	PullRequests      []repohost.PullRequest            `json:"pull_requests,omitempty"`
	Repositories      []string                          `json:"repositories,omitempty"`
	Contributors      map[string][]repohost.Contributor `json:"contributors,omitempty"`
	RepositoryDetails []repohost.RepositoryDetails      `json:"repository_details,omitempty"`
	Counts            map[string]int                    `json:"counts"`
	StepErrors        map[string]string                 `json:"step_errors,omitempty"`

	seenIssues  map[string]bool
	seenCommits map[string]bool
	seenPRs     map[string]bool
}

func newBundle() *Bundle {
	return &Bundle{
		Counts:      map[string]int{},
		StepErrors:  map[string]string{},
		seenIssues:  map[string]bool{},
		seenCommits: map[string]bool{},
		seenPRs:     map[string]bool{},
	}
}

// Empty reports whether no data of any kind was gathered.
func (b *Bundle) Empty() bool {
	return len(b.Issues) == 0 && len(b.IssueDetails) == 0 && len(b.Projects) == 0 &&
		len(b.Users) == 0 && len(b.Commits) == 0 && len(b.PullRequests) == 0 &&
		len(b.Repositories) == 0 && len(b.Contributors) == 0 && len(b.RepositoryDetails) == 0
}

// Fan-out steps over overlapping members can return the same entity
// twice; appends deduplicate by natural key.

func (b *Bundle) addIssues(issues []tracker.Issue) {
	for _, issue := range issues {
		if b.seenIssues[issue.Key] {
			continue
		}
		b.seenIssues[issue.Key] = true
		b.Issues = append(b.Issues, issue)
	}
	b.Counts["issues"] = len(b.Issues)
}

func (b *Bundle) addCommits(commits []repohost.Commit) {
	for _, commit := range commits {
		if b.seenCommits[commit.SHA] {
			continue
		}
		b.seenCommits[commit.SHA] = true
		b.Commits = append(b.Commits, commit)
	}
	b.Counts["commits"] = len(b.Commits)
}

func (b *Bundle) addContributors(repository string, contributors []repohost.Contributor) {
	if len(contributors) == 0 {
		return
	}
	if b.Contributors == nil {
		b.Contributors = map[string][]repohost.Contributor{}
	}
	b.Contributors[repository] = contributors
}

func (b *Bundle) addPullRequests(prs []repohost.PullRequest) {
	for _, pr := range prs {
		key := pr.Repository + "#" + strconv.Itoa(pr.Number)
		if b.seenPRs[key] {
			continue
		}
		b.seenPRs[key] = true
		b.PullRequests = append(b.PullRequests, pr)
	}
	b.Counts["pull_requests"] = len(b.PullRequests)
}
