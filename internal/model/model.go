// Package model defines the shared data types for Firewatch: the Entry
// observation log, PR metadata, sync checkpoints, the ack overlay, freeze
// rows, and the query filter understood by the store.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EntryType classifies an observation.
type EntryType string

const (
	TypeComment EntryType = "comment"
	TypeReview  EntryType = "review"
	TypeCommit  EntryType = "commit"
	TypeCI      EntryType = "ci"
	TypeEvent   EntryType = "event"
)

// Comment subtypes. Only entries with Type == TypeComment carry a subtype.
const (
	SubtypeIssueComment  = "issue_comment"
	SubtypeReviewComment = "review_comment"
)

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	StateOpen   PRState = "open"
	StateDraft  PRState = "draft"
	StateClosed PRState = "closed"
	StateMerged PRState = "merged"
)

// Scope partitions sync work: "open" covers {open, draft}, "closed" covers
// {closed, merged}. Each (repo, scope) pair keeps its own cursor.
type Scope string

const (
	ScopeOpen   Scope = "open"
	ScopeClosed Scope = "closed"
)

// States returns the PR states a scope covers.
func (s Scope) States() []PRState {
	if s == ScopeClosed {
		return []PRState{StateClosed, StateMerged}
	}
	return []PRState{StateOpen, StateDraft}
}

// ScopeForState maps a PR state to the scope that syncs it.
func ScopeForState(st PRState) Scope {
	if st == StateClosed || st == StateMerged {
		return ScopeClosed
	}
	return ScopeOpen
}

// Review states, normalised to lowercase.
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewCommented        = "commented"
	ReviewDismissed        = "dismissed"
)

// FileActivity records commit activity on a comment's file after the comment
// was written. Present only on review comments.
type FileActivity struct {
	Modified            bool       `json:"modified"`
	CommitsTouchingFile int        `json:"commits_touching_file"`
	LatestCommit        string     `json:"latest_commit,omitempty"`
	LatestCommitAt      *time.Time `json:"latest_commit_at,omitempty"`
}

// Reactions carries the reaction accounting Firewatch tracks.
type Reactions struct {
	ThumbsUpBy []string `json:"thumbs_up_by,omitempty"`
}

// GraphiteInfo is stack metadata attached by the Graphite enrichment plugin.
type GraphiteInfo struct {
	StackID       string `json:"stack_id"`
	StackPosition int    `json:"stack_position"`
	StackSize     int    `json:"stack_size"`
}

// Entry is one observed PR-activity event. Entries are immutable once
// stored; re-observation upserts content fields but preserves the original
// CapturedAt. Identity is (ID, Repo).
type Entry struct {
	ID   string `json:"id" db:"id"`
	Repo string `json:"repo" db:"repo"`

	PR       int       `json:"pr" db:"pr"`
	PRState  PRState   `json:"pr_state" db:"pr_state"`
	PRAuthor string    `json:"pr_author" db:"pr_author"`
	PRTitle  string    `json:"pr_title" db:"pr_title"`
	PRBranch string    `json:"pr_branch,omitempty" db:"pr_branch"`
	PRLabels []string  `json:"pr_labels,omitempty" db:"-"`
	Type     EntryType `json:"type" db:"type"`
	Subtype  string    `json:"subtype,omitempty" db:"subtype"`

	Author      string `json:"author" db:"author"`
	AuthorLogin string `json:"author_login,omitempty" db:"author_login"`

	Body           string        `json:"body,omitempty" db:"body"`
	State          string        `json:"state,omitempty" db:"state"`
	File           string        `json:"file,omitempty" db:"file"`
	Line           int           `json:"line,omitempty" db:"line"`
	DatabaseID     int64         `json:"database_id,omitempty" db:"database_id"`
	ThreadResolved *bool         `json:"thread_resolved,omitempty" db:"-"`
	FileActivity   *FileActivity `json:"file_activity_after,omitempty" db:"-"`
	Reactions      *Reactions    `json:"reactions,omitempty" db:"-"`
	Graphite       *GraphiteInfo `json:"graphite,omitempty" db:"-"`
	URL            string        `json:"url,omitempty" db:"url"`

	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

// IsSelfComment reports whether the entry's author is the PR author
// (case-insensitive). Self-comments are stored but never actionable.
func (e *Entry) IsSelfComment() bool {
	return e.Author != "" && strings.EqualFold(e.Author, e.PRAuthor)
}

// ThumbsUpFrom reports whether login has 👍-reacted to this entry.
func (e *Entry) ThumbsUpFrom(login string) bool {
	if e.Reactions == nil || login == "" {
		return false
	}
	for _, l := range e.Reactions.ThumbsUpBy {
		if strings.EqualFold(l, login) {
			return true
		}
	}
	return false
}

// PRMeta is the current snapshot of a pull request, one row per (repo, pr).
// Upserted on every sync, never deleted.
type PRMeta struct {
	Repo      string    `json:"repo" db:"repo"`
	Number    int       `json:"pr" db:"pr"`
	State     PRState   `json:"state" db:"state"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	Branch    string    `json:"branch,omitempty" db:"branch"`
	Labels    []string  `json:"labels,omitempty" db:"-"`
	Draft     bool      `json:"draft" db:"draft"`
	NodeID    string    `json:"node_id" db:"node_id"`
	URL       string    `json:"url,omitempty" db:"url"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SyncMeta is the checkpoint for one (repo, scope) sync partition.
type SyncMeta struct {
	Repo     string    `json:"repo" db:"repo"`
	Scope    Scope     `json:"scope" db:"scope"`
	LastSync time.Time `json:"last_sync" db:"last_sync"`
	PRCount  int       `json:"pr_count" db:"pr_count"`
	Cursor   string    `json:"cursor,omitempty" db:"cursor"`
}

// AckRecord marks a comment as locally handled. Records are append-only;
// the newest record for a (repo, comment_id) shadows older ones.
type AckRecord struct {
	Repo          string    `json:"repo" db:"repo"`
	CommentID     string    `json:"comment_id" db:"comment_id"`
	PR            int       `json:"pr" db:"pr"`
	AckedAt       time.Time `json:"acked_at" db:"acked_at"`
	AckedBy       string    `json:"acked_by,omitempty" db:"acked_by"`
	ReactionAdded bool      `json:"reaction_added" db:"reaction_added"`
}

// Freeze masks activity on a PR newer than FrozenAt from queries.
type Freeze struct {
	Repo     string    `json:"repo" db:"repo"`
	PR       int       `json:"pr" db:"pr"`
	FrozenAt time.Time `json:"frozen_at" db:"frozen_at"`
}

// EntryFilter selects entries. Predicates compose by conjunction; zero
// values mean "no constraint". Authors is an include list (OR within);
// ExcludeAuthors and bot patterns subtract.
type EntryFilter struct {
	Repo           string
	RepoPrefix     string
	PRs            []int
	Types          []EntryType
	Authors        []string
	ExcludeAuthors []string
	ExcludeBots    bool
	BotPatterns    []string
	Label          string
	States         []PRState
	Since          *time.Time
	Before         *time.Time
	ID             string
	ExcludeStale   bool
	Orphaned       bool

	// IncludeFrozen lifts the freeze mask. Internal paths only (bulk clear).
	IncludeFrozen bool
}

// SplitRepo splits an "owner/name" slug.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q: want owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// ParsePRState normalises GitHub's PR state strings (REST lowercase or
// GraphQL uppercase) plus the draft flag into a PRState.
func ParsePRState(state string, draft bool) PRState {
	switch strings.ToLower(state) {
	case "merged":
		return StateMerged
	case "closed":
		return StateClosed
	default:
		if draft {
			return StateDraft
		}
		return StateOpen
	}
}
