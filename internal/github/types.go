package github

import "time"

// PRSummary is the listing-level view of a pull request.
type PRSummary struct {
	Number    int
	NodeID    string
	Title     string
	Author    string
	State     string // OPEN, CLOSED, MERGED
	IsDraft   bool
	HeadRef   string
	Labels    []string
	URL       string
	UpdatedAt time.Time
}

// PRPage is one page of a pull-request listing.
type PRPage struct {
	PRs       []*PRSummary
	EndCursor string
	HasNext   bool
}

// Review is a submitted pull-request review.
type Review struct {
	ID        string
	Author    string
	State     string // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING
	Body      string
	URL       string
	CreatedAt time.Time
}

// ReviewComment is an inline comment inside a review thread.
// ThreadResolved is nil when the thread state could not be observed.
type ReviewComment struct {
	ID             string
	DatabaseID     int64
	ThreadID       string
	ThreadResolved *bool
	Author         string
	Body           string
	Path           string
	Line           int
	URL            string
	CreatedAt      time.Time
}

// IssueComment is a PR-level conversation comment.
type IssueComment struct {
	ID         string
	DatabaseID int64
	Author     string
	Body       string
	URL        string
	ThumbsUpBy []string
	CreatedAt  time.Time
}

// Commit is one commit on a PR's head branch.
type Commit struct {
	OID         string
	Author      string
	Message     string
	CommittedAt time.Time
}

// CheckRun is one CI check result from the head commit's status rollup.
type CheckRun struct {
	NodeID      string
	Name        string
	Status      string
	Conclusion  string
	URL         string
	CompletedAt time.Time
}

// PRDetail is the full child-collection view of one pull request.
type PRDetail struct {
	PRSummary
	Reviews        []Review
	ReviewComments []ReviewComment
	IssueComments  []IssueComment
	Commits        []Commit
	Checks         []CheckRun
}

// ReviewEvent selects the kind of review to submit.
type ReviewEvent string

const (
	ReviewEventApprove        ReviewEvent = "APPROVE"
	ReviewEventRequestChanges ReviewEvent = "REQUEST_CHANGES"
	ReviewEventComment        ReviewEvent = "COMMENT"
)

// ParseReviewEvent maps the CLI spelling to a ReviewEvent.
func ParseReviewEvent(s string) (ReviewEvent, bool) {
	switch s {
	case "approve":
		return ReviewEventApprove, true
	case "request-changes":
		return ReviewEventRequestChanges, true
	case "comment":
		return ReviewEventComment, true
	}
	return "", false
}

// MutationResult is the identity of a created object.
type MutationResult struct {
	ID  string
	URL string
}

// PREdit carries the optional fields of an edit_pull_request call.
// Nil fields are left untouched.
type PREdit struct {
	Title *string
	Body  *string
	Base  *string
}
