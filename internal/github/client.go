// Package github is Firewatch's transport to the GitHub API: GraphQL reads
// covering the full PR activity surface and REST+GraphQL writes for the
// feedback operations, behind a uniform error taxonomy with retry and
// rate-limit handling.
package github

import (
	"context"
	"time"

	"github.com/firewatch/firewatch/internal/model"
)

// Client is the capability bundle the sync engine and feedback pipeline
// depend on. Pagination of child collections happens inside the client;
// listing pages are yielded one at a time so the caller decides when to stop.
type Client interface {
	// ListPullRequests returns one page of PRs in the given states, newest
	// activity first. cursor is the opaque continuation from a prior page.
	ListPullRequests(ctx context.Context, repo string, states []model.PRState, cursor string) (*PRPage, error)

	// PullRequestDetail fetches the full child collections for one PR.
	PullRequestDetail(ctx context.Context, repo string, number int) (*PRDetail, error)

	// ReviewThreadMap returns comment node ID -> review thread ID for a PR.
	ReviewThreadMap(ctx context.Context, repo string, number int) (map[string]string, error)

	// PullRequestNodeID resolves a PR number to its GraphQL node ID.
	PullRequestNodeID(ctx context.Context, repo string, number int) (string, error)

	// ListCommits lists commits on ref touching path since the given time.
	ListCommits(ctx context.Context, repo, ref, path string, since time.Time) ([]Commit, error)

	AddReview(ctx context.Context, repo string, number int, event ReviewEvent, body string) (*MutationResult, error)
	AddIssueComment(ctx context.Context, prNodeID, body string) (*MutationResult, error)
	AddReviewThreadReply(ctx context.Context, threadID, body string) (*MutationResult, error)
	ResolveReviewThread(ctx context.Context, threadID string) error

	// AddReaction adds a reaction (content per the GraphQL ReactionContent
	// enum, e.g. THUMBS_UP). A duplicate reaction surfaces as ConflictError;
	// callers treat that as success.
	AddReaction(ctx context.Context, subjectID, content string) error

	AddLabels(ctx context.Context, repo string, number int, labels []string) error
	RemoveLabel(ctx context.Context, repo string, number int, label string) error
	RequestReviewers(ctx context.Context, repo string, number int, logins []string) error
	RemoveReviewers(ctx context.Context, repo string, number int, logins []string) error
	AddAssignees(ctx context.Context, repo string, number int, logins []string) error
	RemoveAssignees(ctx context.Context, repo string, number int, logins []string) error
	SetMilestone(ctx context.Context, repo string, number, milestone int) error
	ClearMilestone(ctx context.Context, repo string, number int) error

	EditPullRequest(ctx context.Context, repo string, number int, edit PREdit) error
	ConvertToDraft(ctx context.Context, prNodeID string) error
	MarkReady(ctx context.Context, prNodeID string) error
	ClosePullRequest(ctx context.Context, prNodeID string) error

	EditIssueComment(ctx context.Context, repo string, restID int64, body string) error
	DeleteIssueComment(ctx context.Context, repo string, restID int64) error
	EditReviewComment(ctx context.Context, repo string, restID int64, body string) error
	DeleteReviewComment(ctx context.Context, repo string, restID int64) error
}
