// Package synthesis turns an activity bundle into the text the user
// reads. The deterministic template path is always available; the model
// path layers a conversational summary on top and can never make the
// outcome worse than the template, because any model failure falls back.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"teampulse/internal/executor"
	"teampulse/internal/llm"
)

const synthesisSystemPrompt = "You are a team activity assistant that summarizes " +
	"software development work. Be concise, factual, and conversational. Only state " +
	"facts present in the provided data; never invent people, issues, or numbers."

// bundle items shown per section in the template path
const maxTemplateItems = 10

// Synthesizer produces response text. A nil model client pins every call
// to the template path.
type Synthesizer struct {
	model  llm.Client
	logger *zap.Logger
}

// New creates a synthesizer. model may be nil.
func New(model llm.Client, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{model: model, logger: logger.Named("synthesis")}
}

// Synthesize renders bundle as an answer to query. Degradation is
// one-directional: template output is the floor, never an error.
func (s *Synthesizer) Synthesize(ctx context.Context, bundle *executor.Bundle, query string) string {
	template := Template(bundle)
	if s.model == nil {
		return template
	}

	enhanced, err := s.enhance(ctx, bundle, template, query)
	if err != nil {
		s.logger.Warn("enhanced synthesis failed, using template", zap.Error(llm.Classify(err)))
		return template
	}
	return enhanced
}

func (s *Synthesizer) enhance(ctx context.Context, bundle *executor.Bundle, template, query string) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("encode bundle: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User question: %s\n\n", query)
	fmt.Fprintf(&sb, "Activity data (JSON):\n%s\n\n", data)
	fmt.Fprintf(&sb, "Basic summary:\n%s\n\n", template)
	sb.WriteString("Write a natural, conversational answer to the user question that highlights " +
		"who contributed what, notable trends, and anything that looks blocked. " +
		"If the data has gaps (see step_errors), mention them briefly.")

	out, err := s.model.CompleteWithSystem(ctx, synthesisSystemPrompt, sb.String())
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty synthesis output")
	}
	return out, nil
}

// Template is the deterministic rendering: issues grouped by status,
// commit and pull-request counts, recent items listed, gaps noted.
func Template(bundle *executor.Bundle) string {
	if bundle == nil || bundle.Empty() {
		return "No recent activity found."
	}

	var parts []string

	if len(bundle.Issues) > 0 {
		parts = append(parts, fmt.Sprintf("Found %d issue(s).", len(bundle.Issues)))

		statusCounts := map[string]int{}
		for _, issue := range bundle.Issues {
			statusCounts[issue.Status]++
		}
		statuses := make([]string, 0, len(statusCounts))
		for status := range statusCounts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		var breakdown []string
		for _, status := range statuses {
			breakdown = append(breakdown, fmt.Sprintf("%d %s", statusCounts[status], status))
		}
		parts = append(parts, "Status breakdown: "+strings.Join(breakdown, ", "))

		for i, issue := range bundle.Issues {
			if i == maxTemplateItems {
				parts = append(parts, fmt.Sprintf("  ... and %d more", len(bundle.Issues)-maxTemplateItems))
				break
			}
			line := fmt.Sprintf("  %s [%s] %s", issue.Key, issue.Status, issue.Summary)
			if issue.Assignee != "" {
				line += " — " + issue.Assignee
			}
			parts = append(parts, line)
		}
	}

	if len(bundle.Commits) > 0 {
		parts = append(parts, fmt.Sprintf("Found %d commit(s).", len(bundle.Commits)))
		for i, commit := range bundle.Commits {
			if i == maxTemplateItems {
				parts = append(parts, fmt.Sprintf("  ... and %d more", len(bundle.Commits)-maxTemplateItems))
				break
			}
			parts = append(parts, fmt.Sprintf("  %s %s: %s (%s)",
				shortSHA(commit.SHA), commit.Repository, firstLine(commit.Message), commit.Author))
		}
	}

	if len(bundle.PullRequests) > 0 {
		parts = append(parts, fmt.Sprintf("Found %d pull request(s).", len(bundle.PullRequests)))
		for i, pr := range bundle.PullRequests {
			if i == maxTemplateItems {
				parts = append(parts, fmt.Sprintf("  ... and %d more", len(bundle.PullRequests)-maxTemplateItems))
				break
			}
			state := pr.State
			if pr.Merged {
				state = "merged"
			}
			parts = append(parts, fmt.Sprintf("  #%d %s [%s] %s (%s)",
				pr.Number, pr.Repository, state, pr.Title, pr.Author))
		}
	}

	if len(bundle.Projects) > 0 {
		var names []string
		for _, p := range bundle.Projects {
			names = append(names, fmt.Sprintf("%s (%s)", p.Key, p.Name))
		}
		parts = append(parts, "Projects: "+strings.Join(names, ", "))
	}

	if len(bundle.Users) > 0 {
		var names []string
		for _, u := range bundle.Users {
			names = append(names, u.DisplayName)
		}
		parts = append(parts, "People: "+strings.Join(names, ", "))
	}

	if len(bundle.Repositories) > 0 && len(bundle.Commits) == 0 && len(bundle.PullRequests) == 0 {
		parts = append(parts, "Repositories: "+strings.Join(bundle.Repositories, ", "))
	}

	if len(bundle.Contributors) > 0 {
		repos := make([]string, 0, len(bundle.Contributors))
		for repo := range bundle.Contributors {
			repos = append(repos, repo)
		}
		sort.Strings(repos)
		for _, repo := range repos {
			var logins []string
			for _, contrib := range bundle.Contributors[repo] {
				logins = append(logins, contrib.Login)
			}
			parts = append(parts, fmt.Sprintf("Contributors to %s: %s", repo, strings.Join(logins, ", ")))
		}
	}

	for _, details := range bundle.RepositoryDetails {
		line := fmt.Sprintf("Repository %s: %d star(s), %d contributor(s)",
			details.Name, details.Stars, len(details.Contributors))
		if details.Language != "" {
			line += ", mainly " + details.Language
		}
		parts = append(parts, line)
	}

	if len(bundle.StepErrors) > 0 {
		keys := make([]string, 0, len(bundle.StepErrors))
		for key := range bundle.StepErrors {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts = append(parts, "Note: some data could not be fetched ("+strings.Join(keys, ", ")+").")
	}

	return strings.Join(parts, "\n")
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}
