package intent

import (
	"regexp"
	"strings"
	"time"

	"teampulse/internal/snapshot"
)

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`@(\w+)`),
		regexp.MustCompile(`(?i)\bby\s+(\w+)`),
		regexp.MustCompile(`(?i)\bfrom\s+(\w+)`),
		regexp.MustCompile(`(\w+)'s`),
	}
	projectKeyRe    = regexp.MustCompile(`\b([A-Z]{2,10})-\d+\b`)
	projectNameRe   = regexp.MustCompile(`(?i)\bproject\s+([A-Za-z]+)`)
	repoPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brepo(?:sitory)?\s+([a-zA-Z0-9\-_]+)`),
		regexp.MustCompile(`(?i)\bin\s+([a-zA-Z0-9\-_]+)\s+repo\b`),
	}
	statusRe = regexp.MustCompile(`(?i)\b(open|closed|merged|in progress|to do|done|resolved)\b`)
	prRe     = regexp.MustCompile(`(?i)\bprs?\b`)

	trackerKeywords = []string{"jira", "issue", "ticket", "story", "bug", "task", "sprint", "project", "assigned"}
	repoKeywords    = []string{"github", "commit", "pull request", "merge", "merged", "branch", "repo", "repository"}
	activityWords   = []string{"activity", "work on", "worked on", "working on", "did", "doing", "done by"}

	// Pattern captures routinely pick up articles, prepositions, and the
	// left side of interrogative contractions ("What's", "Who's").
	nameStopwords = map[string]bool{
		"the": true, "a": true, "an": true, "my": true, "our": true,
		"last": true, "this": true, "that": true, "it": true, "them": true,
		"status": true, "project": true, "repo": true, "team": true,
		"everyone": true, "week": true, "month": true, "today": true, "yesterday": true,
		"what": true, "who": true, "where": true, "when": true, "how": true,
		"let": true, "there": true, "here": true,
	}

	// "repo activity", "repository changes" and friends are not repo names.
	repoStopwords = map[string]bool{
		"activity": true, "activities": true, "changes": true, "work": true,
		"commits": true, "history": true, "list": true, "the": true,
	}
)

// fallbackParse is the deterministic resolution path: keyword and pattern
// extraction only, no model. The produced plan is marked degraded in its
// context notes with the reason the model path was skipped.
func fallbackParse(query string, history []Message, snap *snapshot.Snapshot, now time.Time, reason string) *Plan {
	lower := strings.ToLower(query)
	tokens := tokenize(lower)

	wantsTracker := hasKeyword(lower, tokens, trackerKeywords)
	wantsRepo := hasKeyword(lower, tokens, repoKeywords) || prRe.MatchString(lower)
	names := extractNames(query)
	names = appendKnownMentions(names, tokens, snap)
	timeRange, hasTime := ExtractTimeRange(query, now)

	// A pattern-captured name alone is not a domain signal: "What's the
	// weather" must not become an activity query about "What". Only a name
	// the roster confirms counts toward relevance.
	rosterHit := false
	if snap != nil {
		for _, n := range names {
			if len(snap.MatchIdentities(n)) > 0 {
				rosterHit = true
				break
			}
		}
	}

	relevant := wantsTracker || wantsRepo || hasKeyword(lower, tokens, activityWords) || rosterHit
	if !relevant {
		return &Plan{
			Relevant:     false,
			Reasoning:    "query does not mention tracked work, people, or repositories",
			ContextNotes: map[string]string{"degraded": reason},
		}
	}

	// A bare follow-up ("what about this week?") inherits people from the
	// most recent user turns.
	if len(names) == 0 {
		for i := len(history) - 1; i >= 0 && len(names) == 0; i-- {
			if history[i].Role == "user" {
				names = extractNames(history[i].Text)
			}
		}
	}

	members := resolveMembers(names, snap)
	if !wantsTracker && !wantsRepo {
		wantsTracker, wantsRepo = true, true
	}
	if !hasTime {
		timeRange = TimeRange{Label: "last 7 days", Start: now.AddDate(0, 0, -7), End: now}
	}
	days := timeRange.Days(7)

	plan := &Plan{
		Relevant:  true,
		Intent:    "activity lookup (pattern-matched)",
		Members:   members,
		TimeRange: timeRange,
		ContextNotes: map[string]string{
			"degraded": reason,
		},
	}
	if key := extractProjectKey(query); key != "" {
		plan.Projects = []string{key}
	}
	if repo := extractRepository(query); repo != "" {
		plan.Repositories = []string{repo}
	}

	switch {
	case wantsTracker && wantsRepo:
		plan.Operations = []OperationStep{{
			Tool:   ToolActivityOverview,
			Action: "combined tracker and repository activity",
			Filters: map[string]any{
				"members": members,
				"days":    days,
			},
			OutputKeys: []string{"tracker_activity", "repo_activity"},
		}}
	case wantsTracker:
		filters := map[string]any{}
		if len(members) > 0 {
			filters["assignee"] = members[0]
		}
		if len(plan.Projects) > 0 {
			filters["project"] = plan.Projects[0]
		}
		if status := extractStatus(query); status != "" {
			filters["status"] = status
		}
		plan.Operations = []OperationStep{{
			Tool:       ToolSearchIssues,
			Action:     "search tracker issues",
			Filters:    filters,
			OutputKeys: []string{"issues"},
		}}
	default:
		tool := ToolRepoActivity
		outputKey := "repo_activity"
		if strings.Contains(lower, "pull request") || prRe.MatchString(lower) {
			tool = ToolPullRequests
			outputKey = "pull_requests"
		} else if strings.Contains(lower, "commit") {
			tool = ToolCommits
			outputKey = "commits"
		}
		filters := map[string]any{"days": days}
		if len(members) > 0 {
			if tool == ToolRepoActivity {
				filters["usernames"] = members
			} else {
				filters["author"] = members[0]
			}
		}
		if len(plan.Repositories) > 0 {
			filters["repositories"] = plan.Repositories
		}
		plan.Operations = []OperationStep{{
			Tool:       tool,
			Action:     "repository activity lookup",
			Filters:    filters,
			OutputKeys: []string{outputKey},
		}}
	}
	return plan
}

// extractNames pulls candidate people references out of text, in order of
// first appearance, deduplicated.
func extractNames(text string) []string {
	var names []string
	seen := map[string]bool{}
	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.ToLower(m[1])
			if nameStopwords[name] || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, m[1])
		}
	}
	return names
}

// tokenize splits lowercased text into its alphanumeric words.
func tokenize(lower string) map[string]bool {
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tokens[tok] = true
	}
	return tokens
}

// hasKeyword matches keywords against whole words, with simple plural
// forms. Phrases containing a space match as substrings. Bare substring
// matching is too eager here: "reproduce" is not "repo" and "projection"
// is not "project".
func hasKeyword(lower string, tokens map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		if tokens[kw] || tokens[kw+"s"] || tokens[kw+"es"] {
			return true
		}
		if strings.HasSuffix(kw, "y") && tokens[kw[:len(kw)-1]+"ies"] {
			return true
		}
	}
	return false
}

// appendKnownMentions adds roster names that appear verbatim in the query,
// so "what did john work on" finds John without a by/@ marker.
func appendKnownMentions(names []string, tokens map[string]bool, snap *snapshot.Snapshot) []string {
	if snap == nil {
		return names
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[strings.ToLower(n)] = true
	}
	for _, id := range snap.Identities {
		for _, part := range strings.Fields(strings.ToLower(id.DisplayName)) {
			if len(part) < 3 || seen[part] || !tokens[part] {
				continue
			}
			seen[part] = true
			names = append(names, part)
		}
	}
	return names
}

// resolveMembers maps extracted names onto snapshot identities. A name
// matching several identities keeps all of them: extra empty-result
// queries are cheaper than silently dropping the right person. Names with
// no snapshot match pass through untouched.
func resolveMembers(names []string, snap *snapshot.Snapshot) []string {
	if snap == nil {
		return names
	}
	var members []string
	seen := map[string]bool{}
	for _, name := range names {
		matches := snap.MatchIdentities(name)
		if len(matches) == 0 {
			if !seen[strings.ToLower(name)] {
				seen[strings.ToLower(name)] = true
				members = append(members, name)
			}
			continue
		}
		for _, id := range matches {
			key := strings.ToLower(id.DisplayName)
			if !seen[key] {
				seen[key] = true
				members = append(members, id.DisplayName)
			}
		}
	}
	return members
}

func extractProjectKey(text string) string {
	if m := projectKeyRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := projectNameRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func extractRepository(text string) string {
	for _, re := range repoPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if !repoStopwords[strings.ToLower(m[1])] {
				return m[1]
			}
		}
	}
	return ""
}

func extractStatus(text string) string {
	if m := statusRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

