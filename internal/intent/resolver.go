package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"teampulse/internal/llm"
	"teampulse/internal/snapshot"
)

// capabilityCatalog is the fixed tool description embedded in every
// resolution prompt. Tool names here are the closed set from plan.go.
const capabilityCatalog = `## Cross-platform

### activity.overview
Filters: members (list), days (int), projects (list), repositories (list)
Combined tracker and repository activity for a set of people. Use this for
broad "what did X work on" questions that do not name one system.

## Issue tracker

### tracker.search_issues
Filters: assignee, project, status, issue_type, max_results
Flexible issue search. All present filters are combined.

### tracker.recent_activity
Filters: days (int), members (list)
Issues updated recently, optionally per member.

### tracker.list_projects
No filters. Lists all projects with keys and leads.

### tracker.project_users
Filters: project (key), max_results
Assignable users for one project.

### tracker.search_users
Filters: query, max_results
Partial-match user lookup by name or email.

### tracker.issue_details
Filters: issue_key
One issue with comments and workflow transitions.

## Repository host

### repo.commits
Filters: repositories (list), author, days (int), branch, limit
Commits, newest first.

### repo.pull_requests
Filters: repositories (list), author, days (int), state, limit
Pull requests, most recently updated first.

### repo.repositories
No filters. Lists repository names.

### repo.repository_details
Filters: repository
One repository with contributors, releases, branches, languages.

### repo.recent_activities
Filters: usernames (list), days (int), include_commits (bool), include_prs (bool), repositories (list)
Commit and pull-request activity per username.`

const responseContract = `Respond with ONLY a valid JSON object, no text before or after:
{
  "is_relevant": true,
  "intent": "one-line description of what to find",
  "operations": [
    {"tool": "<tool name from the catalog>", "action": "plain-english step description",
     "filters": {"..."}, "output_keys": ["key"]}
  ],
  "members": ["resolved identity names"],
  "projects": ["project keys"],
  "repositories": ["repository names"],
  "time_range": {"start": "RFC3339 or null", "end": "RFC3339 or null", "label": "as said by the user"},
  "context": {"user_matching": "...", "notes": "..."},
  "error": null
}

For an out-of-domain query set is_relevant to false, leave operations empty,
and put the reasoning in error.reasoning.

Rules:
- Resolve people against the identity list above. A name matching several
  identities must include ALL of them in members; never guess one.
- Never invent people, projects, or repositories that are not in the context.
- Use tool names exactly as written in the catalog.
- Later operations may reference an earlier operation's output key as a
  "{key}" placeholder inside filters.
- Resolve relative time expressions against the Current Time in the user
  message, never your own idea of today.`

const fewShotExamples = `## Examples

Query: What did John work on last week?
{"is_relevant": true, "intent": "recent activity for John",
 "operations": [{"tool": "activity.overview", "action": "combined activity for John",
   "filters": {"members": ["John Smith", "John Doe"], "days": 7}, "output_keys": ["tracker_activity", "repo_activity"]}],
 "members": ["John Smith", "John Doe"], "projects": [], "repositories": [],
 "time_range": {"start": null, "end": null, "label": "last week"},
 "context": {"user_matching": "john -> John Smith, John Doe"}, "error": null}

Query: What commits has ada pushed to the api repo this week?
{"is_relevant": true, "intent": "commits by Ada in api this week",
 "operations": [{"tool": "repo.commits", "action": "commits by ada in api",
   "filters": {"author": "ada", "repositories": ["api"], "days": 7}, "output_keys": ["commits"]}],
 "members": ["Ada Lovelace"], "projects": [], "repositories": ["api"],
 "time_range": {"start": null, "end": null, "label": "this week"},
 "context": {"user_matching": "ada -> Ada Lovelace"}, "error": null}

Query: What's the weather like today?
{"is_relevant": false, "intent": null, "operations": [], "members": [],
 "projects": [], "repositories": [], "time_range": null, "context": null,
 "error": {"error": "not relevant", "reasoning": "not about tracked work or repositories"}}`

// Resolver turns queries into plans. A nil model client is valid: every
// query then takes the deterministic fallback path.
type Resolver struct {
	model  llm.Client
	logger *zap.Logger
}

// NewResolver creates a resolver. model may be nil.
func NewResolver(model llm.Client, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{model: model, logger: logger.Named("intent")}
}

// Resolve produces a plan for query given the conversation history and the
// current organization snapshot. now is the caller's clock and the only
// time source used for relative expressions. The returned plan is always
// validated against the closed tool set; ErrUnknownTool is the one fatal
// outcome.
func (r *Resolver) Resolve(ctx context.Context, query string, history []Message, snap *snapshot.Snapshot, now time.Time) (*Plan, error) {
	plan := r.resolve(ctx, query, history, snap, now)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *Resolver) resolve(ctx context.Context, query string, history []Message, snap *snapshot.Snapshot, now time.Time) *Plan {
	if r.model == nil {
		return fallbackParse(query, history, snap, now, "model unconfigured")
	}

	raw, err := r.model.CompleteWithSystem(ctx, r.systemPrompt(snap), userPrompt(query, history, now))
	if err != nil {
		err = llm.Classify(err)
		r.logger.Warn("model resolution failed, using fallback parser", zap.Error(err))
		return fallbackParse(query, history, snap, now, "model error: "+errReason(err))
	}

	plan, err := decodePlan(raw, snap, now)
	if err != nil {
		r.logger.Warn("model output unusable, using fallback parser",
			zap.Error(err), zap.String("output", truncateForLog(raw)))
		return fallbackParse(query, history, snap, now, "malformed model output")
	}
	return plan
}

func (r *Resolver) systemPrompt(snap *snapshot.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("You are an intent resolver for a developer-activity assistant. ")
	sb.WriteString("You convert questions about who did what across an issue tracker and a repository host ")
	sb.WriteString("into a step-by-step execution plan, or reject questions outside that domain.\n\n")
	sb.WriteString("# Organization context\n")
	sb.WriteString(renderSnapshot(snap))
	sb.WriteString("\n\n# Available tools\n")
	sb.WriteString(capabilityCatalog)
	sb.WriteString("\n\n")
	sb.WriteString(fewShotExamples)
	sb.WriteString("\n\n")
	sb.WriteString(responseContract)
	return sb.String()
}

func userPrompt(query string, history []Message, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Time: %s\n\n", now.Format("2006-01-02 15:04:05 Monday"))
	if len(history) > 0 {
		sb.WriteString("Chat History:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User Query: %s\n\nAnalyze the query and return the JSON response.", query)
	return sb.String()
}

// renderSnapshot is the compact context block: projects with their member
// names, repository names, and the merged identity list.
func renderSnapshot(snap *snapshot.Snapshot) string {
	if snap == nil {
		return "(no context available)"
	}
	var sb strings.Builder
	sb.WriteString("Projects:\n")
	if len(snap.Projects) == 0 {
		sb.WriteString("  (none known)\n")
	}
	for _, p := range snap.Projects {
		fmt.Fprintf(&sb, "  %s (%s)", p.Key, p.Name)
		if members := snap.Members[p.Key]; len(members) > 0 {
			names := make([]string, 0, len(members))
			for _, m := range members {
				names = append(names, m.DisplayName)
			}
			fmt.Fprintf(&sb, " members: %s", strings.Join(names, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Repositories: ")
	if len(snap.Repositories) == 0 {
		sb.WriteString("(none known)")
	} else {
		sb.WriteString(strings.Join(snap.Repositories, ", "))
	}
	sb.WriteString("\nPeople:\n")
	for _, id := range snap.Identities {
		fmt.Fprintf(&sb, "  %s", id.DisplayName)
		if id.Email != "" {
			fmt.Fprintf(&sb, " <%s>", id.Email)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// planEnvelope is the model's wire shape. Filters and context are loose
// maps; time_range start/end tolerate null and string forms.
type planEnvelope struct {
	IsRelevant bool   `json:"is_relevant"`
	Intent     string `json:"intent"`
	Operations []struct {
		Tool       string         `json:"tool"`
		Action     string         `json:"action"`
		Filters    map[string]any `json:"filters"`
		OutputKeys []string       `json:"output_keys"`
	} `json:"operations"`
	Members      []string `json:"members"`
	Projects     []string `json:"projects"`
	Repositories []string `json:"repositories"`
	TimeRange    *struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
		Label string  `json:"label"`
	} `json:"time_range"`
	Context map[string]string `json:"context"`
	Error   *struct {
		Error     string `json:"error"`
		Reasoning string `json:"reasoning"`
	} `json:"error"`
}

func decodePlan(raw string, snap *snapshot.Snapshot, now time.Time) (*Plan, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var env planEnvelope
	if err := json.Unmarshal([]byte(candidate), &env); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if !env.IsRelevant {
		reasoning := "query is outside the tracked-work domain"
		if env.Error != nil && env.Error.Reasoning != "" {
			reasoning = env.Error.Reasoning
		}
		return &Plan{Relevant: false, Reasoning: reasoning}, nil
	}
	if len(env.Operations) == 0 {
		return nil, fmt.Errorf("relevant plan with no operations")
	}

	plan := &Plan{
		Relevant:     true,
		Intent:       env.Intent,
		Members:      env.Members,
		Projects:     env.Projects,
		Repositories: env.Repositories,
		ContextNotes: env.Context,
	}
	for _, op := range env.Operations {
		plan.Operations = append(plan.Operations, OperationStep{
			Tool:       Tool(op.Tool),
			Action:     op.Action,
			Filters:    op.Filters,
			OutputKeys: op.OutputKeys,
		})
	}
	plan.TimeRange = resolveEnvelopeTime(env, now)
	expandAmbiguousMembers(plan, snap)
	return plan, nil
}

// resolveEnvelopeTime prefers explicit absolute bounds from the model, then
// re-resolves the label against the caller's clock.
func resolveEnvelopeTime(env planEnvelope, now time.Time) TimeRange {
	if env.TimeRange == nil {
		return TimeRange{Label: "last 7 days", Start: now.AddDate(0, 0, -7), End: now}
	}
	tr := TimeRange{Label: env.TimeRange.Label}
	if env.TimeRange.Start != nil {
		if t, err := time.Parse(time.RFC3339, *env.TimeRange.Start); err == nil {
			tr.Start = t
		}
	}
	if env.TimeRange.End != nil {
		if t, err := time.Parse(time.RFC3339, *env.TimeRange.End); err == nil {
			tr.End = t
		}
	}
	if tr.Start.IsZero() || tr.End.IsZero() {
		if resolved, ok := ExtractTimeRange(tr.Label, now); ok {
			return resolved
		}
		tr.Start = now.AddDate(0, 0, -7)
		tr.End = now
		if tr.Label == "" {
			tr.Label = "last 7 days"
		}
	}
	return tr
}

// expandAmbiguousMembers re-checks each member name against the snapshot
// and widens to every matching identity. The model is asked to do this
// itself, but recall is cheap to enforce again here.
func expandAmbiguousMembers(plan *Plan, snap *snapshot.Snapshot) {
	if snap == nil || len(plan.Members) == 0 {
		return
	}
	plan.Members = resolveMembers(plan.Members, snap)
}

// extractJSON finds the first balanced JSON object in text, tolerating
// markdown fences and prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func errReason(err error) string {
	switch {
	case err == nil:
		return ""
	case strings.Contains(err.Error(), "timeout"):
		return "timeout"
	case strings.Contains(err.Error(), "quota"):
		return "quota"
	default:
		return "call failed"
	}
}

func truncateForLog(s string) string {
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
