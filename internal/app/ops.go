package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firewatch/firewatch/internal/actionable"
	"github.com/firewatch/firewatch/internal/feedback"
	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/sync"
	"github.com/firewatch/firewatch/internal/timeutil"
	"github.com/firewatch/firewatch/internal/worklist"
)

// QueryOptions narrows a read operation. Zero values fall back to config
// defaults.
type QueryOptions struct {
	Repo           string
	PRs            []int
	Types          []string
	Authors        []string
	ExcludeAuthors []string
	Label          string
	States         []string
	Since          string // duration or ISO date
	Before         string // ISO date
	Limit          int
	Offset         int
	NoSync         bool
	Perspective    string // "", "mine", "reviews"
}

// filter expands QueryOptions into an EntryFilter with config defaults.
func (a *App) filter(opts QueryOptions) (model.EntryFilter, []model.PRState, error) {
	f := model.EntryFilter{
		Repo:           opts.Repo,
		PRs:            opts.PRs,
		Authors:        opts.Authors,
		ExcludeAuthors: opts.ExcludeAuthors,
		Label:          opts.Label,
		ExcludeBots:    a.cfg.Filters.ExcludeBots,
		BotPatterns:    a.cfg.Filters.BotPatterns,
	}
	if len(f.ExcludeAuthors) == 0 {
		f.ExcludeAuthors = a.cfg.Filters.ExcludeAuthors
	}

	for _, t := range opts.Types {
		f.Types = append(f.Types, model.EntryType(strings.ToLower(t)))
	}

	stateNames := opts.States
	if len(stateNames) == 0 {
		stateNames = a.cfg.DefaultStates
	}
	var states []model.PRState
	for _, s := range stateNames {
		states = append(states, model.PRState(strings.ToLower(s)))
	}
	f.States = states

	if opts.Since != "" {
		t, err := timeutil.ParseSince(opts.Since, now())
		if err != nil {
			return f, nil, err
		}
		f.Since = &t
	}
	if opts.Before != "" {
		t, err := timeutil.ParseDate(opts.Before)
		if err != nil {
			return f, nil, err
		}
		f.Before = &t
	}
	return f, states, nil
}

// SyncOutcome is the per-repo result of a multi-repo sync.
type SyncOutcome struct {
	Repo    string         `json:"repo"`
	Results []*sync.Result `json:"results,omitempty"`
	Err     error          `json:"-"`
}

// Sync runs a pass over each repo and scope, continuing past per-repo
// failures. scopeArg narrows to one scope; empty means both.
func (a *App) Sync(ctx context.Context, repos []string, scopeArg string, full bool) ([]*SyncOutcome, error) {
	if len(repos) == 0 {
		repos = a.cfg.Repos
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repos: pass one or set repos in config")
	}

	engine, err := a.Engine()
	if err != nil {
		return nil, err
	}

	mode := sync.ModeIncremental
	if full {
		mode = sync.ModeFull
	}
	scopes := []model.Scope{model.ScopeOpen, model.ScopeClosed}
	if scopeArg != "" {
		scopes = []model.Scope{model.Scope(scopeArg)}
	}

	outcomes := make([]*SyncOutcome, 0, len(repos))
	for _, repo := range repos {
		outcome := &SyncOutcome{Repo: repo}
		for _, scope := range scopes {
			res, err := engine.Sync(ctx, repo, scope, mode)
			if res != nil {
				outcome.Results = append(outcome.Results, res)
			}
			if err != nil {
				outcome.Err = err
				break
			}
		}
		outcomes = append(outcomes, outcome)
		// The resolver's index is stale after new comments land.
		a.resolver.Invalidate(repo)
	}
	return outcomes, nil
}

// List returns entries matching the options, freshest first.
func (a *App) List(ctx context.Context, opts QueryOptions) ([]*model.Entry, error) {
	f, states, err := a.filter(opts)
	if err != nil {
		return nil, err
	}
	if err := a.ensureFresh(ctx, opts.Repo, states, opts.NoSync); err != nil {
		return nil, err
	}
	return a.store.QueryEntries(ctx, f, opts.Limit, opts.Offset)
}

// Worklist returns per-PR aggregates for the matching entries.
func (a *App) Worklist(ctx context.Context, opts QueryOptions) ([]*worklist.Entry, error) {
	entries, err := a.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return worklist.Build(entries), nil
}

// Actionable classifies the matching PRs into attention categories.
func (a *App) Actionable(ctx context.Context, opts QueryOptions) (*actionable.Result, error) {
	entries, err := a.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	acked, err := a.store.AckedIDs(ctx, opts.Repo)
	if err != nil {
		return nil, err
	}
	return actionable.Derive(actionable.Input{
		Entries:           entries,
		AckedIDs:          acked,
		Username:          a.cfg.User.GithubUsername,
		CommitImpliesRead: a.cfg.Feedback.CommitImpliesRead,
		BotPatterns:       a.cfg.Filters.BotPatterns,
		Now:               now(),
		Perspective:       actionable.Perspective(opts.Perspective),
	})
}

// Reply posts a response to a PR or comment.
func (a *App) Reply(ctx context.Context, repo, target, body string) (*feedback.Result, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p.Reply(ctx, repo, target, body)
}

// Resolve marks a comment handled.
func (a *App) Resolve(ctx context.Context, repo, target string) (*feedback.Result, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p.Resolve(ctx, repo, target)
}

// Ack acknowledges a comment, or every unaddressed comment on a PR.
func (a *App) Ack(ctx context.Context, repo, target string) (*feedback.Result, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p.Ack(ctx, repo, target)
}

// Close closes a PR or, in feedback mode, clears its outstanding comments.
func (a *App) Close(ctx context.Context, repo, target string, feedbackMode bool) (*feedback.Result, error) {
	p, err := a.Pipeline()
	if err != nil {
		return nil, err
	}
	return p.Close(ctx, repo, target, feedbackMode)
}

// Freeze masks activity on a PR newer than at (default: now).
func (a *App) Freeze(ctx context.Context, repo string, pr int, at time.Time) error {
	if at.IsZero() {
		at = now()
	}
	return a.store.SetFreeze(ctx, repo, pr, at)
}

// Unfreeze lifts a freeze.
func (a *App) Unfreeze(ctx context.Context, repo string, pr int) error {
	return a.store.ClearFreeze(ctx, repo, pr)
}

// RepoStatus is the cache state of one (repo, scope) partition.
type RepoStatus struct {
	Repo     string      `json:"repo"`
	Scope    model.Scope `json:"scope"`
	LastSync time.Time   `json:"last_sync"`
	PRCount  int         `json:"pr_count"`
	Entries  int         `json:"entries"`
	Stale    bool        `json:"stale"`
}

// Status reports every synced partition plus frozen PRs.
func (a *App) Status(ctx context.Context) ([]*RepoStatus, []*model.Freeze, error) {
	metas, err := a.store.AllSyncMeta(ctx)
	if err != nil {
		return nil, nil, err
	}
	threshold := a.cfg.Sync.StaleThresholdDuration()

	statuses := make([]*RepoStatus, 0, len(metas))
	for _, m := range metas {
		count, err := a.store.CountEntries(ctx, model.EntryFilter{
			Repo:          m.Repo,
			States:        m.Scope.States(),
			IncludeFrozen: true,
		})
		if err != nil {
			return nil, nil, err
		}
		statuses = append(statuses, &RepoStatus{
			Repo:     m.Repo,
			Scope:    m.Scope,
			LastSync: m.LastSync,
			PRCount:  m.PRCount,
			Entries:  count,
			Stale:    now().Sub(m.LastSync) > threshold,
		})
	}

	frozen, err := a.store.FrozenPRs(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	return statuses, frozen, nil
}

// Clear removes all local state for a repo and drops its resolver index.
func (a *App) Clear(ctx context.Context, repo string) error {
	if repo == "" {
		return fmt.Errorf("clear requires an explicit repo")
	}
	if err := a.store.ClearRepo(ctx, repo); err != nil {
		return err
	}
	a.resolver.Invalidate(repo)
	return nil
}
