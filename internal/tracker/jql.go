package tracker

import (
	"fmt"
	"strings"
	"time"
)

// defaultBoundDays bounds an unconstrained search so an empty filter never
// scans the whole corpus.
const defaultBoundDays = 30

// BuildJQL renders a Filter as a JQL query string. Pure: the caller supplies
// now so the default bound is deterministic. All present fields are ANDed;
// an entirely empty filter gets "updated >= -30d". Results are always
// ordered newest-updated first.
func BuildJQL(f Filter, now time.Time) string {
	var parts []string

	if f.ProjectKey != "" {
		parts = append(parts, fmt.Sprintf("project = %s", f.ProjectKey))
	}
	if f.Assignee != "" {
		parts = append(parts, fmt.Sprintf("assignee = %q", f.Assignee))
	}
	if f.Status != "" {
		parts = append(parts, fmt.Sprintf("status = %q", f.Status))
	}
	if f.IssueType != "" {
		parts = append(parts, fmt.Sprintf("issuetype = %q", f.IssueType))
	}
	if !f.CreatedAfter.IsZero() {
		parts = append(parts, fmt.Sprintf("created >= %q", f.CreatedAfter.Format("2006-01-02")))
	}
	if !f.UpdatedAfter.IsZero() {
		parts = append(parts, fmt.Sprintf("updated >= %q", f.UpdatedAfter.Format("2006-01-02")))
	}
	// Minute precision: a bare date means midnight in JQL, which would
	// exclude the whole final day of the range.
	if !f.UpdatedBefore.IsZero() {
		parts = append(parts, fmt.Sprintf("updated <= %q", f.UpdatedBefore.Format("2006-01-02 15:04")))
	}

	if len(parts) == 0 {
		bound := now.AddDate(0, 0, -defaultBoundDays)
		parts = append(parts, fmt.Sprintf("updated >= %q", bound.Format("2006-01-02")))
	}

	return strings.Join(parts, " AND ") + " order by updated DESC"
}
