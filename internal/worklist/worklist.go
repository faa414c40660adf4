// Package worklist aggregates raw activity entries into one row per pull
// request: counts by type, review-state roll-up, and last activity.
package worklist

import (
	"sort"
	"strings"
	"time"

	"github.com/firewatch/firewatch/internal/model"
)

// Counts totals entries by type for one PR.
type Counts struct {
	Comments int `json:"comments"`
	Reviews  int `json:"reviews"`
	Commits  int `json:"commits"`
	CI       int `json:"ci"`
	Events   int `json:"events"`
}

// ReviewStates counts reviews by their normalised state.
type ReviewStates struct {
	Approved         int `json:"approved"`
	ChangesRequested int `json:"changes_requested"`
	Commented        int `json:"commented"`
	Dismissed        int `json:"dismissed"`
}

// Entry is the per-PR aggregate row.
type Entry struct {
	Repo           string              `json:"repo"`
	PR             int                 `json:"pr"`
	PRState        model.PRState       `json:"pr_state"`
	PRTitle        string              `json:"pr_title"`
	PRAuthor       string              `json:"pr_author"`
	PRBranch       string              `json:"pr_branch,omitempty"`
	Counts         Counts              `json:"counts"`
	ReviewStates   ReviewStates        `json:"review_states"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	Graphite       *model.GraphiteInfo `json:"graphite,omitempty"`
}

// Build aggregates entries into one worklist row per distinct PR, ordered by
// last activity descending with ties broken by PR number ascending. Empty
// input yields empty output.
func Build(entries []*model.Entry) []*Entry {
	byPR := make(map[int]*Entry)
	// Latest entry per PR supplies the PR-level fields.
	latest := make(map[int]time.Time)

	for _, e := range entries {
		w := byPR[e.PR]
		if w == nil {
			w = &Entry{Repo: e.Repo, PR: e.PR}
			byPR[e.PR] = w
		}

		switch e.Type {
		case model.TypeComment:
			w.Counts.Comments++
		case model.TypeReview:
			w.Counts.Reviews++
			switch strings.ToLower(e.State) {
			case model.ReviewApproved:
				w.ReviewStates.Approved++
			case model.ReviewChangesRequested:
				w.ReviewStates.ChangesRequested++
			case model.ReviewCommented:
				w.ReviewStates.Commented++
			case model.ReviewDismissed:
				w.ReviewStates.Dismissed++
			}
		case model.TypeCommit:
			w.Counts.Commits++
		case model.TypeCI:
			w.Counts.CI++
		case model.TypeEvent:
			w.Counts.Events++
		}

		if e.CreatedAt.After(w.LastActivityAt) {
			w.LastActivityAt = e.CreatedAt
		}
		if e.CreatedAt.After(latest[e.PR]) || w.PRTitle == "" {
			latest[e.PR] = e.CreatedAt
			w.PRState = e.PRState
			w.PRTitle = e.PRTitle
			w.PRAuthor = e.PRAuthor
			w.PRBranch = e.PRBranch
		}
		// Stack metadata is identical across a PR's entries by invariant.
		if w.Graphite == nil && e.Graphite != nil {
			w.Graphite = e.Graphite
		}
	}

	out := make([]*Entry, 0, len(byPR))
	for _, w := range byPR {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].PR < out[j].PR
	})
	return out
}
