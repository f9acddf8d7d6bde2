// Package agent wires the pipeline together: session memory in, intent
// resolution, plan execution, response synthesis, session memory out.
// One ProcessQuery call is one conversation turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teampulse/internal/executor"
	"teampulse/internal/intent"
	"teampulse/internal/llm"
	"teampulse/internal/repohost"
	"teampulse/internal/session"
	"teampulse/internal/snapshot"
	"teampulse/internal/synthesis"
	"teampulse/internal/tracker"
)

// Result is the outcome of one turn. Success=false is reserved for real
// defects (an invalid plan); a rejected out-of-domain query is a handled
// outcome and stays Success=true.
type Result struct {
	Success     bool   `json:"success"`
	Response    string `json:"response"`
	PlanSummary string `json:"plan_summary,omitempty"`
	Degraded    bool   `json:"degraded,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Health reports collaborator liveness.
type Health struct {
	TrackerOK bool `json:"tracker_ok"`
	RepoOK    bool `json:"repo_ok"`
	ModelOK   bool `json:"model_ok"`
}

// Agent is the top-level query processor.
type Agent struct {
	tracker   *tracker.Client
	repohost  *repohost.Client
	model     llm.Client
	resolver  *intent.Resolver
	executor  *executor.Executor
	synth     *synthesis.Synthesizer
	sessions  *session.Manager
	snapshots *snapshot.Builder
	logger    *zap.Logger
}

// Options carries the agent's collaborators. Model may be nil (degraded
// deterministic operation); Sessions and Snapshots are required.
type Options struct {
	Tracker   *tracker.Client
	RepoHost  *repohost.Client
	Model     llm.Client
	Sessions  *session.Manager
	Snapshots *snapshot.Builder
	Logger    *zap.Logger
}

// New assembles an agent from its collaborators.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		tracker:   opts.Tracker,
		repohost:  opts.RepoHost,
		model:     opts.Model,
		resolver:  intent.NewResolver(opts.Model, logger),
		executor:  executor.New(opts.Tracker, opts.RepoHost, logger),
		synth:     synthesis.New(opts.Model, logger),
		sessions:  opts.Sessions,
		snapshots: opts.Snapshots,
		logger:    logger.Named("agent"),
	}
}

// ProcessQuery runs one turn on the given session. now is the caller's
// clock, used for all relative-time resolution. The error return is for
// turn admission only (session busy); everything past admission is
// reported inside Result.
func (a *Agent) ProcessQuery(ctx context.Context, sessionID, query string, now time.Time) (Result, error) {
	sess, err := a.sessions.Acquire(sessionID)
	if err != nil {
		return Result{}, err
	}
	defer a.sessions.Release(sess.ID)

	history := sess.Memory.History()

	snap, err := a.snapshots.Get(ctx)
	if err != nil {
		a.logger.Warn("snapshot unavailable, resolving without context", zap.Error(err))
		snap = nil
	}

	plan, err := a.resolver.Resolve(ctx, query, history, snap, now)
	if err != nil {
		// Unknown tool in the plan: a defect worth surfacing, not hiding.
		result := Result{Success: false, Err: err.Error()}
		a.record(sess, query, result, "")
		return result, nil
	}

	if !plan.Relevant {
		result := Result{
			Success: true,
			Response: "That looks outside what I can help with — I answer questions about " +
				"team activity in the issue tracker and code repositories. (" + plan.Reasoning + ")",
			Degraded: plan.Degraded(),
		}
		a.record(sess, query, result, "")
		return result, nil
	}

	bundle, err := a.executor.Execute(ctx, plan)
	if err != nil {
		result := Result{Success: false, Err: err.Error()}
		a.record(sess, query, result, planSummary(plan))
		return result, nil
	}

	response := a.synth.Synthesize(ctx, bundle, query)
	result := Result{
		Success:     true,
		Response:    response,
		PlanSummary: planSummary(plan),
		Degraded:    plan.Degraded() || len(bundle.StepErrors) > 0 || (snap != nil && len(snap.Degraded) > 0),
	}
	a.record(sess, query, result, result.PlanSummary)
	return result, nil
}

// record appends the user turn and the assistant turn for this exchange.
func (a *Agent) record(sess *session.Session, query string, result Result, planSummary string) {
	a.sessions.RecordTurn(sess, "user", query, "", "")
	text := result.Response
	if text == "" {
		text = result.Err
	}
	a.sessions.RecordTurn(sess, "assistant", text, planSummary, result.Err)
}

func planSummary(plan *intent.Plan) string {
	if plan == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d operation(s))", plan.Intent, len(plan.Operations))
}

// ClearSession drops a session's in-memory working state.
func (a *Agent) ClearSession(id string) {
	a.sessions.Clear(id)
}

// ClearSessionMemory empties a live session's conversation buffer.
func (a *Agent) ClearSessionMemory(id string) {
	a.sessions.ClearMemory(id)
}

// Health probes each collaborator. The model check is configuration-only;
// burning quota on a liveness probe is not worth it.
func (a *Agent) Health(ctx context.Context) Health {
	return Health{
		TrackerOK: a.tracker.TestConnection(ctx),
		RepoOK:    a.repohost.TestConnection(ctx),
		ModelOK:   a.model != nil,
	}
}

// IsSessionBusy reports whether err is the turn-admission failure.
func IsSessionBusy(err error) bool {
	return errors.Is(err, session.ErrSessionBusy)
}
