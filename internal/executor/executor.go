package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"teampulse/internal/intent"
	"teampulse/internal/repohost"
	"teampulse/internal/tracker"
)

// Executor dispatches plan operations to the two source adapters.
type Executor struct {
	tracker  *tracker.Client
	repohost *repohost.Client
	logger   *zap.Logger
}

// New creates an executor over the given adapters.
func New(trackerClient *tracker.Client, hostClient *repohost.Client, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		tracker:  trackerClient,
		repohost: hostClient,
		logger:   logger.Named("executor"),
	}
}

// Execute runs the plan's operations in order and returns the accumulated
// bundle. Individual step failures are recorded in Bundle.StepErrors; the
// only hard errors are an irrelevant plan or an unknown tool, both of
// which are caller defects.
func (e *Executor) Execute(ctx context.Context, plan *intent.Plan) (*Bundle, error) {
	if plan == nil || !plan.Relevant {
		return nil, fmt.Errorf("executor: plan is not executable")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	bundle := newBundle()
	outputs := map[string]any{}

	for i, op := range plan.Operations {
		filters := substitute(op.Filters, outputs)
		result, err := e.dispatch(ctx, plan, op.Tool, filters, bundle)
		key := stepKey(op, i)
		if err != nil {
			e.logger.Warn("plan step failed, continuing",
				zap.Int("step", i), zap.String("tool", string(op.Tool)), zap.Error(err))
			bundle.StepErrors[key] = err.Error()
			continue
		}
		for _, k := range op.OutputKeys {
			outputs[k] = result
		}
	}
	return bundle, nil
}

func stepKey(op intent.OperationStep, index int) string {
	if len(op.OutputKeys) > 0 {
		return op.OutputKeys[0]
	}
	return fmt.Sprintf("step_%d", index)
}

// dispatch runs one tool call, stores its data in the bundle, and returns
// a value for output-key substitution in later steps.
func (e *Executor) dispatch(ctx context.Context, plan *intent.Plan, tool intent.Tool, filters map[string]any, bundle *Bundle) (any, error) {
	days := intFilter(filters, "days", plan.TimeRange.Days(7))

	switch tool {
	case intent.ToolActivityOverview:
		members := stringsFilter(filters, "members", plan.Members)
		issues, err := e.tracker.RecentActivity(ctx, days, members)
		if err != nil {
			return nil, err
		}
		bundle.addIssues(issues.Issues)
		repos := stringsFilter(filters, "repositories", plan.Repositories)
		activity, err := e.repohost.RecentActivities(ctx, members, days, true, true, repos)
		if err != nil {
			return nil, err
		}
		bundle.addCommits(activity.Commits)
		bundle.addPullRequests(activity.PullRequests)
		return members, nil

	case intent.ToolSearchIssues:
		filter := tracker.Filter{
			Assignee:      stringFilter(filters, "assignee", firstOf(plan.Members)),
			ProjectKey:    stringFilter(filters, "project", firstOf(plan.Projects)),
			Status:        stringFilter(filters, "status", ""),
			IssueType:     stringFilter(filters, "issue_type", ""),
			UpdatedAfter:  plan.TimeRange.Start,
			UpdatedBefore: plan.TimeRange.End,
		}
		result, err := e.tracker.SearchIssues(ctx, filter, intFilter(filters, "max_results", 50))
		if err != nil {
			return nil, err
		}
		bundle.addIssues(result.Issues)
		return result.Issues, nil

	case intent.ToolTrackerActivity:
		members := stringsFilter(filters, "members", plan.Members)
		result, err := e.tracker.RecentActivity(ctx, days, members)
		if err != nil {
			return nil, err
		}
		bundle.addIssues(result.Issues)
		return result.Issues, nil

	case intent.ToolListProjects:
		projects, err := e.tracker.Projects(ctx)
		if err != nil {
			return nil, err
		}
		bundle.Projects = append(bundle.Projects, projects...)
		bundle.Counts["projects"] = len(bundle.Projects)
		keys := make([]string, 0, len(projects))
		for _, p := range projects {
			keys = append(keys, p.Key)
		}
		return keys, nil

	case intent.ToolProjectUsers:
		project := stringFilter(filters, "project", firstOf(plan.Projects))
		if project == "" {
			return nil, fmt.Errorf("project_users requires a project filter")
		}
		users, err := e.tracker.ProjectUsers(ctx, project, intFilter(filters, "max_results", 50))
		if err != nil {
			return nil, err
		}
		bundle.Users = append(bundle.Users, users...)
		bundle.Counts["users"] = len(bundle.Users)
		return userNames(users), nil

	case intent.ToolSearchUsers:
		query := stringFilter(filters, "query", firstOf(plan.Members))
		if query == "" {
			return nil, fmt.Errorf("search_users requires a query filter")
		}
		users, err := e.tracker.SearchUsers(ctx, query, intFilter(filters, "max_results", 20))
		if err != nil {
			return nil, err
		}
		bundle.Users = append(bundle.Users, users...)
		bundle.Counts["users"] = len(bundle.Users)
		return userNames(users), nil

	case intent.ToolIssueDetails:
		key := stringFilter(filters, "issue_key", "")
		if key == "" {
			return nil, fmt.Errorf("issue_details requires an issue_key filter")
		}
		details, found, err := e.tracker.IssueDetails(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("issue %s not found", key)
		}
		bundle.IssueDetails = append(bundle.IssueDetails, details)
		bundle.addIssues([]tracker.Issue{details.Issue})
		return details, nil

	case intent.ToolCommits:
		repos, err := e.targetRepositories(ctx, filters, plan)
		if err != nil {
			return nil, err
		}
		commitFilter := repohost.CommitFilter{
			Author: stringFilter(filters, "author", ""),
			Since:  plan.TimeRange.Start,
			Until:  plan.TimeRange.End,
			Branch: stringFilter(filters, "branch", ""),
		}
		commits, err := e.repohost.Commits(ctx, repos, commitFilter, intFilter(filters, "limit", 100))
		if err != nil {
			return nil, err
		}
		bundle.addCommits(commits)
		return commits, nil

	case intent.ToolPullRequests:
		repos, err := e.targetRepositories(ctx, filters, plan)
		if err != nil {
			return nil, err
		}
		prFilter := repohost.CommitFilter{
			Author: stringFilter(filters, "author", ""),
			Since:  plan.TimeRange.Start,
			Until:  plan.TimeRange.End,
		}
		prs, err := e.repohost.PullRequests(ctx, repos, prFilter, intFilter(filters, "limit", 100))
		if err != nil {
			return nil, err
		}
		if state := stringFilter(filters, "state", ""); state != "" && state != "all" {
			filtered := prs[:0]
			for _, pr := range prs {
				if strings.EqualFold(pr.State, state) || (state == "merged" && pr.Merged) {
					filtered = append(filtered, pr)
				}
			}
			prs = filtered
		}
		bundle.addPullRequests(prs)
		return prs, nil

	case intent.ToolRepositories:
		repos, err := e.repohost.Repositories(ctx)
		if err != nil {
			return nil, err
		}
		bundle.Repositories = appendUnique(bundle.Repositories, repos)
		bundle.Counts["repositories"] = len(bundle.Repositories)
		if boolFilter(filters, "with_contributors", false) {
			for _, repo := range repos {
				contributors, err := e.repohost.Contributors(ctx, repo)
				if err != nil {
					e.logger.Warn("contributor listing failed, skipping repository",
						zap.String("repository", repo), zap.Error(err))
					continue
				}
				bundle.addContributors(repo, contributors)
			}
		}
		return repos, nil

	case intent.ToolRepositoryDetails:
		name := stringFilter(filters, "repository", firstOf(plan.Repositories))
		if name == "" {
			return nil, fmt.Errorf("repository_details requires a repository filter")
		}
		details, found, err := e.repohost.RepositoryDetails(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("repository %s not found", name)
		}
		bundle.RepositoryDetails = append(bundle.RepositoryDetails, details)
		bundle.Repositories = appendUnique(bundle.Repositories, []string{details.Name})
		return details, nil

	case intent.ToolRepoActivity:
		usernames := stringsFilter(filters, "usernames", plan.Members)
		repos := stringsFilter(filters, "repositories", plan.Repositories)
		activity, err := e.repohost.RecentActivities(ctx, usernames, days,
			boolFilter(filters, "include_commits", true),
			boolFilter(filters, "include_prs", true), repos)
		if err != nil {
			return nil, err
		}
		bundle.addCommits(activity.Commits)
		bundle.addPullRequests(activity.PullRequests)
		bundle.Repositories = appendUnique(bundle.Repositories, activity.Repositories)
		return activity, nil

	default:
		// Unreachable after Validate; kept as a guard.
		return nil, fmt.Errorf("%w: %q", intent.ErrUnknownTool, tool)
	}
}

func (e *Executor) targetRepositories(ctx context.Context, filters map[string]any, plan *intent.Plan) ([]string, error) {
	repos := stringsFilter(filters, "repositories", plan.Repositories)
	if len(repos) > 0 {
		return repos, nil
	}
	return e.repohost.Repositories(ctx)
}

// --- filter coercion ---

var placeholderRe = regexp.MustCompile(`^\{(\w+)\}$`)

// substitute replaces "{key}" placeholder values with the stored output of
// an earlier step. Unmatched placeholders pass through untouched so the
// failure shows up in the adapter call rather than vanishing.
func substitute(filters map[string]any, outputs map[string]any) map[string]any {
	if len(filters) == 0 {
		return filters
	}
	result := make(map[string]any, len(filters))
	for k, v := range filters {
		result[k] = substituteValue(v, outputs)
	}
	return result
}

func substituteValue(v any, outputs map[string]any) any {
	switch val := v.(type) {
	case string:
		if m := placeholderRe.FindStringSubmatch(val); m != nil {
			if out, ok := outputs[m[1]]; ok {
				return out
			}
		}
		return val
	case []any:
		replaced := make([]any, len(val))
		for i, item := range val {
			replaced[i] = substituteValue(item, outputs)
		}
		return replaced
	default:
		return v
	}
}

func stringFilter(filters map[string]any, key, def string) string {
	switch v := filters[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return def
}

func stringsFilter(filters map[string]any, key string, def []string) []string {
	switch v := filters[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return def
}

func intFilter(filters map[string]any, key string, def int) int {
	switch v := filters[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64: // JSON numbers decode to float64
		if v > 0 {
			return int(v)
		}
	}
	return def
}

func boolFilter(filters map[string]any, key string, def bool) bool {
	if v, ok := filters[key].(bool); ok {
		return v
	}
	return def
}

func firstOf(values []string) string {
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

func userNames(users []tracker.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.DisplayName)
	}
	return names
}

func appendUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	return existing
}
