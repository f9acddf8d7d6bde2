// Package snapshot assembles the organization context the intent resolver
// grounds against: known projects, their assignable members, repository
// names, and the merged identity list. Child fetches fan out with bounded
// concurrency and degrade independently, so a half-configured deployment
// still yields a usable (smaller) snapshot.
package snapshot

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"teampulse/internal/repohost"
	"teampulse/internal/tracker"
)

// memberFetchConcurrency bounds the per-project member fan-out.
const memberFetchConcurrency = 4

// DefaultTTL is how long a built snapshot stays fresh. Organization shape
// changes slowly; an hour keeps resolver latency flat without going stale.
const DefaultTTL = time.Hour

// Identity is one person as known to either source.
type Identity struct {
	AccountID   string `json:"account_id,omitempty"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Snapshot is one point-in-time view of the organization. Identities
// merges tracker project members with repo-host contributors, so a person
// known to only one source is still resolvable.
type Snapshot struct {
	Projects     []tracker.Project                 `json:"projects"`
	Members      map[string][]tracker.User         `json:"members"`
	Repositories []string                          `json:"repositories"`
	Contributors map[string][]repohost.Contributor `json:"contributors,omitempty"`
	Identities   []Identity                        `json:"identities"`
	Degraded     []string                          `json:"degraded,omitempty"`
	BuiltAt      time.Time                         `json:"built_at"`
}

// MatchIdentities returns every identity whose display name, account ID, or
// email contains the queried name, case-insensitively. Ambiguity is the
// caller's problem: all matches are returned.
func (s *Snapshot) MatchIdentities(name string) []Identity {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	var matches []Identity
	for _, id := range s.Identities {
		if strings.Contains(strings.ToLower(id.DisplayName), needle) ||
			strings.Contains(strings.ToLower(id.Email), needle) ||
			strings.EqualFold(id.AccountID, needle) {
			matches = append(matches, id)
		}
	}
	return matches
}

// Builder builds and caches snapshots. Concurrent callers during a rebuild
// share one in-flight build.
type Builder struct {
	tracker  *tracker.Client
	repohost *repohost.Client
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	flight singleflight.Group
	mu     sync.Mutex
	cached *Snapshot
}

// NewBuilder creates a snapshot builder. ttl <= 0 uses DefaultTTL.
func NewBuilder(trackerClient *tracker.Client, hostClient *repohost.Client, ttl time.Duration, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Builder{
		tracker:  trackerClient,
		repohost: hostClient,
		ttl:      ttl,
		logger:   logger.Named("snapshot"),
		now:      time.Now,
	}
}

// Get returns the cached snapshot if still fresh, otherwise rebuilds.
func (b *Builder) Get(ctx context.Context) (*Snapshot, error) {
	b.mu.Lock()
	cached := b.cached
	b.mu.Unlock()
	if cached != nil && b.now().Sub(cached.BuiltAt) < b.ttl {
		return cached, nil
	}

	result, err, _ := b.flight.Do("snapshot", func() (any, error) {
		snap, err := b.build(ctx)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.cached = snap
		b.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next Get rebuilds.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

func (b *Builder) build(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Members: map[string][]tracker.User{},
		BuiltAt: b.now(),
	}

	projects, err := b.tracker.Projects(ctx)
	if err != nil {
		b.logger.Warn("project listing failed, snapshot degrades", zap.Error(err))
		snap.Degraded = append(snap.Degraded, "projects")
	} else {
		snap.Projects = projects
	}

	repos, err := b.repohost.Repositories(ctx)
	if err != nil {
		b.logger.Warn("repository listing failed, snapshot degrades", zap.Error(err))
		snap.Degraded = append(snap.Degraded, "repositories")
	} else {
		snap.Repositories = repos
	}

	if len(snap.Projects) > 0 || len(snap.Repositories) > 0 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(memberFetchConcurrency)
		for _, project := range snap.Projects {
			g.Go(func() error {
				users, err := b.tracker.ProjectUsers(gctx, project.Key, 50)
				if err != nil {
					b.logger.Warn("member listing failed for project",
						zap.String("project", project.Key), zap.Error(err))
					mu.Lock()
					snap.Degraded = append(snap.Degraded, "members:"+project.Key)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				snap.Members[project.Key] = users
				mu.Unlock()
				return nil
			})
		}
		for _, repo := range snap.Repositories {
			g.Go(func() error {
				contributors, err := b.repohost.Contributors(gctx, repo)
				if err != nil {
					b.logger.Warn("contributor listing failed for repository",
						zap.String("repository", repo), zap.Error(err))
					mu.Lock()
					snap.Degraded = append(snap.Degraded, "contributors:"+repo)
					mu.Unlock()
					return nil
				}
				if len(contributors) == 0 {
					return nil
				}
				mu.Lock()
				if snap.Contributors == nil {
					snap.Contributors = map[string][]repohost.Contributor{}
				}
				snap.Contributors[repo] = contributors
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	snap.Identities = mergeIdentities(snap.Members, snap.Contributors)
	sort.Strings(snap.Degraded)
	return snap, ctx.Err()
}

// mergeIdentities flattens per-project member lists and per-repository
// contributor lists into one deduplicated identity list, keyed by account
// ID when present and by lowercased display name otherwise.
func mergeIdentities(members map[string][]tracker.User, contributors map[string][]repohost.Contributor) []Identity {
	seen := map[string]bool{}
	var identities []Identity
	for _, users := range members {
		for _, u := range users {
			key := u.AccountID
			if key == "" {
				key = strings.ToLower(u.DisplayName)
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			identities = append(identities, Identity{
				AccountID:   u.AccountID,
				DisplayName: u.DisplayName,
				Email:       u.Email,
			})
		}
	}
	for _, contribs := range contributors {
		for _, contrib := range contribs {
			key := strings.ToLower(contrib.Login)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			identities = append(identities, Identity{DisplayName: contrib.Login})
		}
	}
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].DisplayName < identities[j].DisplayName
	})
	return identities
}

// SetClock overrides the time source. Test hook.
func (b *Builder) SetClock(now func() time.Time) { b.now = now }
