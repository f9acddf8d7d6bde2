// Package intent converts a natural-language query, the conversation so
// far, and the organization snapshot into either a rejection or a
// structured execution plan. Resolution prefers the language model;
// a deterministic keyword parser guarantees the resolver always
// terminates in a definite state when the model is absent or unusable.
package intent

import (
	"fmt"
	"time"
)

// Tool names the adapter capability an operation step dispatches to. The
// set is closed: a plan referencing anything else is a defect, not data.
type Tool string

const (
	ToolActivityOverview  Tool = "activity.overview"
	ToolSearchIssues      Tool = "tracker.search_issues"
	ToolTrackerActivity   Tool = "tracker.recent_activity"
	ToolListProjects      Tool = "tracker.list_projects"
	ToolProjectUsers      Tool = "tracker.project_users"
	ToolSearchUsers       Tool = "tracker.search_users"
	ToolIssueDetails      Tool = "tracker.issue_details"
	ToolCommits           Tool = "repo.commits"
	ToolPullRequests      Tool = "repo.pull_requests"
	ToolRepositories      Tool = "repo.repositories"
	ToolRepositoryDetails Tool = "repo.repository_details"
	ToolRepoActivity      Tool = "repo.recent_activities"
)

var knownTools = map[Tool]bool{
	ToolActivityOverview:  true,
	ToolSearchIssues:      true,
	ToolTrackerActivity:   true,
	ToolListProjects:      true,
	ToolProjectUsers:      true,
	ToolSearchUsers:       true,
	ToolIssueDetails:      true,
	ToolCommits:           true,
	ToolPullRequests:      true,
	ToolRepositories:      true,
	ToolRepositoryDetails: true,
	ToolRepoActivity:      true,
}

// Known reports whether t is in the closed tool set.
func (t Tool) Known() bool { return knownTools[t] }

// ErrUnknownTool marks a plan that references a tool outside the closed
// set. This is a configuration or prompt defect and fails the turn loudly.
var ErrUnknownTool = fmt.Errorf("intent: unknown tool in plan")

// TimeRange is an absolute window plus the human label it came from.
// Zero Start/End with a non-empty Label means the label could not be
// resolved and downstream defaults apply.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
	Label string    `json:"label,omitempty"`
}

// Days is the window width in whole days, minimum 1, or def when the
// range is unresolved.
func (tr TimeRange) Days(def int) int {
	if tr.Start.IsZero() || tr.End.IsZero() {
		return def
	}
	days := int(tr.End.Sub(tr.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// OperationStep is one planned adapter call. Filters may reference an
// earlier step's output key as a "{key}" placeholder; the executor
// substitutes at run time.
type OperationStep struct {
	Tool       Tool           `json:"tool"`
	Action     string         `json:"action"`
	Filters    map[string]any `json:"filters,omitempty"`
	OutputKeys []string       `json:"output_keys,omitempty"`
}

// Plan is the resolver's terminal output. Relevant=false carries no
// operations and must not reach the executor.
type Plan struct {
	Relevant     bool              `json:"is_relevant"`
	Intent       string            `json:"intent,omitempty"`
	Members      []string          `json:"members,omitempty"`
	Projects     []string          `json:"projects,omitempty"`
	Repositories []string          `json:"repositories,omitempty"`
	TimeRange    TimeRange         `json:"time_range"`
	Operations   []OperationStep   `json:"operations,omitempty"`
	ContextNotes map[string]string `json:"context_notes,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
}

// Degraded reports whether the plan came from the fallback parser rather
// than full model resolution.
func (p *Plan) Degraded() bool {
	return p.ContextNotes["degraded"] != ""
}

// Validate checks the closed-tool invariant.
func (p *Plan) Validate() error {
	for _, op := range p.Operations {
		if !op.Tool.Known() {
			return fmt.Errorf("%w: %q", ErrUnknownTool, op.Tool)
		}
	}
	return nil
}

// Message is one prior conversation turn as seen by the resolver.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
