// Package sync brings the local store's view of a (repo, scope) partition up
// to date: incremental or full passes over the GitHub listing, per-PR child
// fetches with bounded fan-out, plugin enrichment, and checkpoint handling.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/github"
	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/store"
	"github.com/firewatch/firewatch/internal/tracing"
)

// Mode selects how much of the partition a pass covers.
type Mode string

const (
	// ModeIncremental processes only PRs updated since the last checkpoint.
	ModeIncremental Mode = "incremental"
	// ModeFull reprocesses every PR in the scope.
	ModeFull Mode = "full"
)

const (
	defaultConcurrency   = 8
	defaultSoftTimeout   = 10 * time.Minute
	defaultFirstLookback = 14 * 24 * time.Hour
)

// Options tunes an Engine.
type Options struct {
	// Concurrency bounds the per-PR child-fetch fan-out.
	Concurrency int
	// Timeout is the soft per-scope deadline; on expiry pending PRs are
	// skipped and the checkpoint is not advanced.
	Timeout time.Duration
	// FirstLookback bounds the first incremental pass when no checkpoint
	// exists. Full passes ignore it.
	FirstLookback time.Duration
	// Enrichers run over every normalised entry, in order.
	Enrichers []Enricher
	// FileActivity enables commit-activity enrichment for review comments on
	// unresolved threads.
	FileActivity bool
}

// Engine mirrors PR activity into the store.
type Engine struct {
	store  *store.Store
	client github.Client
	opts   Options
	logger *logger.Logger
}

// NewEngine creates a sync engine.
func NewEngine(st *store.Store, client github.Client, opts Options, log *logger.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultSoftTimeout
	}
	if opts.FirstLookback <= 0 {
		opts.FirstLookback = defaultFirstLookback
	}
	return &Engine{store: st, client: client, opts: opts, logger: log}
}

// PRFailure records one PR that could not be fully persisted.
type PRFailure struct {
	PR  int   `json:"pr"`
	Err error `json:"-"`
}

// Result summarises one sync pass.
type Result struct {
	Repo      string        `json:"repo"`
	Scope     model.Scope   `json:"scope"`
	Mode      Mode          `json:"mode"`
	PRsSeen   int           `json:"prs_seen"`
	PRsSynced int           `json:"prs_synced"`
	Entries   int           `json:"entries"`
	Failures  []PRFailure   `json:"failures,omitempty"`
	Advanced  bool          `json:"advanced"`
	Duration  time.Duration `json:"-"`
}

// Clean reports whether every processed PR persisted without error.
func (r *Result) Clean() bool { return len(r.Failures) == 0 }

// Sync runs one pass over (repo, scope). The checkpoint advances only after
// a clean pass; per-PR failures are logged and carried in the result. A
// cancelled or expired context retains committed work without advancing.
func (e *Engine) Sync(ctx context.Context, repo string, scope model.Scope, mode Mode) (*Result, error) {
	ctx, span := tracing.Tracer("sync").Start(ctx, "sync.pass")
	defer span.End()

	syncID := uuid.NewString()
	log := e.logger.WithRepo(repo).WithFields(
		zap.String("sync_id", syncID),
		zap.String("scope", string(scope)),
		zap.String("mode", string(mode)))

	passStart := time.Now().UTC()
	since, err := e.sinceCutoff(ctx, repo, scope, mode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	res := &Result{Repo: repo, Scope: scope, Mode: mode}
	log.Info("sync pass started", zap.Time("since", since))

	var endCursor string
	cursor := ""
listing:
	for {
		page, err := e.client.ListPullRequests(ctx, repo, scope.States(), cursor)
		if err != nil {
			return res, fmt.Errorf("list pull requests: %w", err)
		}
		endCursor = page.EndCursor

		changed := make([]*github.PRSummary, 0, len(page.PRs))
		for _, pr := range page.PRs {
			res.PRsSeen++
			if mode == ModeFull || pr.UpdatedAt.After(since) {
				changed = append(changed, pr)
			}
		}
		e.processBatch(ctx, repo, changed, res, log)

		// The listing is newest-first: a page with no changed PRs means
		// everything further back is older than the cutoff.
		if !page.HasNext || (mode == ModeIncremental && len(changed) == 0) {
			break listing
		}
		select {
		case <-ctx.Done():
			log.Warn("sync pass interrupted", zap.Error(ctx.Err()))
			break listing
		default:
		}
		cursor = page.EndCursor
	}

	res.Duration = time.Since(passStart)
	if ctx.Err() == nil && res.Clean() {
		meta := &model.SyncMeta{
			Repo:     repo,
			Scope:    scope,
			LastSync: passStart,
			PRCount:  res.PRsSynced,
			Cursor:   endCursor,
		}
		if err := e.store.SetSyncMeta(ctx, meta); err != nil {
			return res, err
		}
		res.Advanced = true
	}

	log.Info("sync pass finished",
		zap.Int("prs_seen", res.PRsSeen),
		zap.Int("prs_synced", res.PRsSynced),
		zap.Int("entries", res.Entries),
		zap.Int("failures", len(res.Failures)),
		zap.Bool("advanced", res.Advanced))
	return res, nil
}

// sinceCutoff determines the incremental window start.
func (e *Engine) sinceCutoff(ctx context.Context, repo string, scope model.Scope, mode Mode) (time.Time, error) {
	if mode == ModeFull {
		return time.Time{}, nil
	}
	meta, err := e.store.GetSyncMeta(ctx, repo, scope)
	if err != nil {
		return time.Time{}, err
	}
	if meta == nil {
		return time.Now().UTC().Add(-e.opts.FirstLookback), nil
	}
	return meta.LastSync, nil
}

// processBatch syncs a page's changed PRs with bounded concurrency. Failures
// are collected, not propagated; each PR commits independently.
func (e *Engine) processBatch(ctx context.Context, repo string, prs []*github.PRSummary, res *Result, log *logger.Logger) {
	if len(prs) == 0 {
		return
	}
	type prOutcome struct {
		pr      int
		entries int
		err     error
	}
	outcomes := make([]prOutcome, len(prs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, pr := range prs {
		g.Go(func() error {
			n, err := e.syncPR(gctx, repo, pr)
			outcomes[i] = prOutcome{pr: pr.Number, entries: n, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			log.Warn("pr sync failed", zap.Int("pr", o.pr), zap.Error(o.err))
			res.Failures = append(res.Failures, PRFailure{PR: o.pr, Err: o.err})
			continue
		}
		res.PRsSynced++
		res.Entries += o.entries
	}
}

// syncPR fetches, normalises, enriches, and persists one PR. The entry batch
// commits in a single transaction so readers never observe a half-populated
// PR.
func (e *Engine) syncPR(ctx context.Context, repo string, pr *github.PRSummary) (int, error) {
	detail, err := e.client.PullRequestDetail(ctx, repo, pr.Number)
	if err != nil {
		return 0, fmt.Errorf("detail #%d: %w", pr.Number, err)
	}

	entries := Normalize(repo, detail)
	if e.opts.FileActivity {
		e.enrichFileActivity(ctx, repo, detail, entries)
	}
	for _, entry := range entries {
		if err := e.enrich(ctx, entry); err != nil {
			return 0, err
		}
	}

	meta := &model.PRMeta{
		Repo:      repo,
		Number:    detail.Number,
		State:     model.ParsePRState(detail.State, detail.IsDraft),
		Title:     detail.Title,
		Author:    detail.Author,
		Branch:    detail.HeadRef,
		Labels:    detail.Labels,
		Draft:     detail.IsDraft,
		NodeID:    detail.NodeID,
		URL:       detail.URL,
		UpdatedAt: detail.UpdatedAt,
	}
	if err := e.store.UpsertPR(ctx, meta); err != nil {
		return 0, err
	}
	if err := e.store.UpsertEntries(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// enrichFileActivity populates file_activity_after for review comments on
// unresolved threads by listing head-ref commits touching the file since the
// comment. Failures leave the field unset.
func (e *Engine) enrichFileActivity(ctx context.Context, repo string, detail *github.PRDetail, entries []*model.Entry) {
	for _, entry := range entries {
		if entry.Subtype != model.SubtypeReviewComment || entry.File == "" {
			continue
		}
		if entry.ThreadResolved != nil && *entry.ThreadResolved {
			continue
		}
		commits, err := e.client.ListCommits(ctx, repo, detail.HeadRef, entry.File, entry.CreatedAt)
		if err != nil {
			e.logger.WithRepo(repo).Debug("file activity lookup failed",
				zap.Int("pr", detail.Number), zap.String("file", entry.File), zap.Error(err))
			continue
		}
		fa := &model.FileActivity{
			Modified:            len(commits) > 0,
			CommitsTouchingFile: len(commits),
		}
		if len(commits) > 0 {
			latest := commits[0]
			for _, c := range commits[1:] {
				if c.CommittedAt.After(latest.CommittedAt) {
					latest = c
				}
			}
			fa.LatestCommit = latest.OID
			at := latest.CommittedAt
			fa.LatestCommitAt = &at
		}
		entry.FileActivity = fa
	}
}
