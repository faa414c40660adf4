// Package feedback coordinates the write-side operations over review
// threads and comments: reply, resolve, ack (single and bulk), and close.
// Remote mutations go through the GitHub client; every handled comment also
// gets a local ack record so derivation reflects the action before the next
// sync observes the remote change.
package feedback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firewatch/firewatch/internal/actionable"
	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/github"
	"github.com/firewatch/firewatch/internal/ids"
	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/store"
)

const defaultReactionConcurrency = 8

// thumbsUp is the reaction content used for acks.
const thumbsUp = "THUMBS_UP"

// Options tunes a Pipeline.
type Options struct {
	// Username is the configured operator, forwarded into derivation for
	// bulk acks and recorded as acked_by.
	Username string
	// CommitImpliesRead is forwarded into derivation for bulk acks.
	CommitImpliesRead bool
	// BotPatterns is forwarded into derivation for bulk acks.
	BotPatterns []string
	// Concurrency bounds parallel reaction/resolve calls in bulk operations.
	Concurrency int
}

// Pipeline executes feedback actions against GitHub and the local store.
type Pipeline struct {
	client   github.Client
	store    *store.Store
	resolver *ids.Resolver
	opts     Options
	logger   *logger.Logger
}

// NewPipeline creates a feedback pipeline.
func NewPipeline(client github.Client, st *store.Store, resolver *ids.Resolver, opts Options, log *logger.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultReactionConcurrency
	}
	return &Pipeline{client: client, store: st, resolver: resolver, opts: opts, logger: log}
}

// Result is the outcome of one feedback action, shaped for JSONL output.
type Result struct {
	OK            bool   `json:"ok"`
	Repo          string `json:"repo"`
	PR            int    `json:"pr,omitempty"`
	ID            string `json:"id,omitempty"`    // short form
	GHID          string `json:"gh_id,omitempty"` // full node ID
	URL           string `json:"url,omitempty"`
	InReplyTo     string `json:"in_reply_to,omitempty"`
	Resolved      bool   `json:"resolved,omitempty"`
	Acked         bool   `json:"acked,omitempty"`
	ReactionAdded bool   `json:"reaction_added,omitempty"`
	Closed        bool   `json:"closed,omitempty"`
	ClosedCount   int    `json:"closed_count,omitempty"`
	ResolvedCount int    `json:"resolved_count,omitempty"`
	AckedCount    int    `json:"acked_count,omitempty"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
}

// resolveTarget classifies one user-supplied target into a PR number or a
// comment entry.
func (p *Pipeline) resolveTarget(ctx context.Context, repo, target string) (*ids.Resolution, error) {
	results := p.resolver.ResolveBatch(ctx, repo, []string{target})
	res := &results[0]
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}

// prNodeID resolves a PR number to its node ID, preferring the cached PR
// snapshot over a network round trip.
func (p *Pipeline) prNodeID(ctx context.Context, repo string, pr int) (string, error) {
	meta, err := p.store.GetPR(ctx, repo, pr)
	if err != nil {
		return "", err
	}
	if meta != nil && meta.NodeID != "" {
		return meta.NodeID, nil
	}
	return p.client.PullRequestNodeID(ctx, repo, pr)
}

// threadID finds the review thread owning a comment.
func (p *Pipeline) threadID(ctx context.Context, repo string, pr int, commentID string) (string, error) {
	threads, err := p.client.ReviewThreadMap(ctx, repo, pr)
	if err != nil {
		return "", err
	}
	id, ok := threads[commentID]
	if !ok {
		return "", &github.NotFoundError{Resource: "review thread for comment " + commentID}
	}
	return id, nil
}

// Reply posts a response. A PR-number target becomes an issue comment; a
// review-comment target becomes a thread reply; an issue-comment target
// becomes an issue comment on its PR.
func (p *Pipeline) Reply(ctx context.Context, repo, target, body string) (*Result, error) {
	res, err := p.resolveTarget(ctx, repo, target)
	if err != nil {
		return nil, err
	}

	out := &Result{Repo: repo, Warning: res.Warning}

	if res.Kind == ids.KindPR {
		nodeID, err := p.prNodeID(ctx, repo, res.PR)
		if err != nil {
			return nil, err
		}
		posted, err := p.client.AddIssueComment(ctx, nodeID, body)
		if err != nil {
			return nil, err
		}
		out.OK = true
		out.PR = res.PR
		out.ID = ids.ShortID(posted.ID, repo)
		out.GHID = posted.ID
		out.URL = posted.URL
		return out, nil
	}

	entry := res.Entry
	out.PR = entry.PR
	out.InReplyTo = ids.Display(res.ShortID)

	var posted *github.MutationResult
	if entry.Subtype == model.SubtypeReviewComment {
		threadID, err := p.threadID(ctx, repo, entry.PR, entry.ID)
		if err != nil {
			return nil, err
		}
		posted, err = p.client.AddReviewThreadReply(ctx, threadID, body)
		if err != nil {
			return nil, err
		}
	} else {
		nodeID, err := p.prNodeID(ctx, repo, entry.PR)
		if err != nil {
			return nil, err
		}
		posted, err = p.client.AddIssueComment(ctx, nodeID, body)
		if err != nil {
			return nil, err
		}
	}

	out.OK = true
	out.ID = ids.ShortID(posted.ID, repo)
	out.GHID = posted.ID
	out.URL = posted.URL
	return out, nil
}

// Resolve marks one comment handled: a review comment's thread is resolved
// remotely, an issue comment (which GitHub cannot resolve) is acked with a
// reaction. Both paths write an ack record.
func (p *Pipeline) Resolve(ctx context.Context, repo, target string) (*Result, error) {
	res, err := p.resolveTarget(ctx, repo, target)
	if err != nil {
		return nil, err
	}
	if res.Kind == ids.KindPR {
		return nil, fmt.Errorf("resolve needs a comment id, got PR #%d", res.PR)
	}

	entry := res.Entry
	out := &Result{
		Repo:    repo,
		PR:      entry.PR,
		ID:      res.ShortID,
		GHID:    entry.ID,
		Warning: res.Warning,
	}

	if entry.Subtype == model.SubtypeReviewComment {
		threadID, err := p.threadID(ctx, repo, entry.PR, entry.ID)
		if err != nil {
			return nil, err
		}
		if err := p.client.ResolveReviewThread(ctx, threadID); err != nil && !github.IsConflict(err) {
			return nil, err
		}
		out.Resolved = true
	} else {
		out.ReactionAdded = p.react(ctx, entry.ID)
	}

	if err := p.recordAck(ctx, repo, entry, out.ReactionAdded); err != nil {
		return nil, err
	}
	out.OK = true
	out.Acked = true
	return out, nil
}

// Ack acknowledges a single comment, or every unaddressed comment on a PR
// when the target is a PR number.
func (p *Pipeline) Ack(ctx context.Context, repo, target string) (*Result, error) {
	res, err := p.resolveTarget(ctx, repo, target)
	if err != nil {
		return nil, err
	}
	if res.Kind == ids.KindPR {
		return p.bulkAck(ctx, repo, res.PR)
	}

	entry := res.Entry
	reacted := p.react(ctx, entry.ID)
	if err := p.recordAck(ctx, repo, entry, reacted); err != nil {
		return nil, err
	}
	return &Result{
		OK:            true,
		Repo:          repo,
		PR:            entry.PR,
		ID:            res.ShortID,
		GHID:          entry.ID,
		Acked:         true,
		ReactionAdded: reacted,
		Warning:       res.Warning,
	}, nil
}

// bulkAck acknowledges every unaddressed comment on a PR: reactions fire in
// parallel (bounded), then all ack records commit in one transaction
// regardless of individual reaction outcomes.
func (p *Pipeline) bulkAck(ctx context.Context, repo string, pr int) (*Result, error) {
	comments, err := p.unaddressed(ctx, repo, pr)
	if err != nil {
		return nil, err
	}
	out := &Result{OK: true, Repo: repo, PR: pr, Acked: true}
	if len(comments) == 0 {
		return out, nil
	}

	reacted := p.reactBatch(ctx, comments)

	now := time.Now().UTC()
	records := make([]*model.AckRecord, len(comments))
	for i, c := range comments {
		records[i] = &model.AckRecord{
			Repo:          repo,
			CommentID:     c.ID,
			PR:            pr,
			AckedAt:       now,
			AckedBy:       p.opts.Username,
			ReactionAdded: reacted[c.ID],
		}
	}
	if err := p.store.InsertAcks(ctx, records); err != nil {
		return nil, err
	}
	out.AckedCount = len(records)
	return out, nil
}

// Close closes a PR, or in feedback mode resolves and acks its outstanding
// comments instead. A comment target resolves-or-acks that single comment.
func (p *Pipeline) Close(ctx context.Context, repo, target string, feedbackMode bool) (*Result, error) {
	res, err := p.resolveTarget(ctx, repo, target)
	if err != nil {
		return nil, err
	}

	if res.Kind != ids.KindPR {
		return p.Resolve(ctx, repo, target)
	}
	if feedbackMode {
		return p.closeFeedback(ctx, repo, res.PR)
	}

	nodeID, err := p.prNodeID(ctx, repo, res.PR)
	if err != nil {
		return nil, err
	}
	if err := p.client.ClosePullRequest(ctx, nodeID); err != nil {
		return nil, err
	}
	return &Result{OK: true, Repo: repo, PR: res.PR, Closed: true}, nil
}

// closeFeedback resolves every unresolved review thread on the PR and acks
// the comments that have no thread to resolve.
func (p *Pipeline) closeFeedback(ctx context.Context, repo string, pr int) (*Result, error) {
	comments, err := p.unaddressed(ctx, repo, pr)
	if err != nil {
		return nil, err
	}
	out := &Result{OK: true, Repo: repo, PR: pr}
	if len(comments) == 0 {
		return out, nil
	}

	var threadTargets, ackTargets []*model.Entry
	for _, c := range comments {
		if c.Subtype == model.SubtypeReviewComment {
			threadTargets = append(threadTargets, c)
		} else {
			ackTargets = append(ackTargets, c)
		}
	}

	var threads map[string]string
	if len(threadTargets) > 0 {
		threads, err = p.client.ReviewThreadMap(ctx, repo, pr)
		if err != nil {
			return nil, err
		}
	}

	resolved := make([]bool, len(threadTargets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, c := range threadTargets {
		g.Go(func() error {
			threadID, ok := threads[c.ID]
			if !ok {
				p.logger.WithRepo(repo).Warn("no thread for review comment",
					zap.Int("pr", pr), zap.String("comment", c.ID))
				return nil
			}
			err := p.client.ResolveReviewThread(gctx, threadID)
			if err != nil && !github.IsConflict(err) {
				p.logger.WithRepo(repo).Warn("resolve thread failed",
					zap.Int("pr", pr), zap.String("comment", c.ID), zap.Error(err))
				return nil
			}
			resolved[i] = true
			return nil
		})
	}
	_ = g.Wait()

	reacted := p.reactBatch(ctx, ackTargets)

	now := time.Now().UTC()
	var records []*model.AckRecord
	for i, c := range threadTargets {
		if !resolved[i] {
			continue
		}
		out.ResolvedCount++
		records = append(records, p.ackRecord(repo, c, false, now))
	}
	for _, c := range ackTargets {
		records = append(records, p.ackRecord(repo, c, reacted[c.ID], now))
	}
	if err := p.store.InsertAcks(ctx, records); err != nil {
		return nil, err
	}
	out.AckedCount = len(records)
	out.ClosedCount = out.ResolvedCount + len(ackTargets)
	out.OK = out.ClosedCount == len(comments)
	return out, nil
}

// unaddressed derives the outstanding comments on one PR. PR state is not
// gated so closed PRs can be bulk-acked.
func (p *Pipeline) unaddressed(ctx context.Context, repo string, pr int) ([]*model.Entry, error) {
	entries, err := p.store.QueryEntries(ctx, model.EntryFilter{
		Repo: repo,
		PRs:  []int{pr},
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	acked, err := p.store.AckedIDs(ctx, repo)
	if err != nil {
		return nil, err
	}

	derived, err := actionable.Derive(actionable.Input{
		Entries:           entries,
		AckedIDs:          acked,
		Username:          p.opts.Username,
		CommitImpliesRead: p.opts.CommitImpliesRead,
		BotPatterns:       p.opts.BotPatterns,
		PRStates: []model.PRState{
			model.StateOpen, model.StateDraft, model.StateClosed, model.StateMerged,
		},
		Now: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	for _, item := range derived.Unaddressed {
		if item.PR == pr {
			return item.Comments, nil
		}
	}
	return nil, nil
}

// react adds a thumbs-up, treating a duplicate reaction as not-added but not
// an error.
func (p *Pipeline) react(ctx context.Context, commentID string) bool {
	err := p.client.AddReaction(ctx, commentID, thumbsUp)
	if err == nil {
		return true
	}
	if github.IsConflict(err) {
		return false
	}
	p.logger.Warn("reaction failed", zap.String("comment", commentID), zap.Error(err))
	return false
}

// reactBatch fires reactions in parallel with bounded concurrency and
// reports which comments gained one.
func (p *Pipeline) reactBatch(ctx context.Context, comments []*model.Entry) map[string]bool {
	reacted := make([]bool, len(comments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, c := range comments {
		g.Go(func() error {
			reacted[i] = p.react(gctx, c.ID)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(comments))
	for i, c := range comments {
		out[c.ID] = reacted[i]
	}
	return out
}

func (p *Pipeline) ackRecord(repo string, c *model.Entry, reacted bool, now time.Time) *model.AckRecord {
	return &model.AckRecord{
		Repo:          repo,
		CommentID:     c.ID,
		PR:            c.PR,
		AckedAt:       now,
		AckedBy:       p.opts.Username,
		ReactionAdded: reacted,
	}
}

func (p *Pipeline) recordAck(ctx context.Context, repo string, c *model.Entry, reacted bool) error {
	return p.store.InsertAck(ctx, p.ackRecord(repo, c, reacted, time.Now().UTC()))
}
