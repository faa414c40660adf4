// Package actionable classifies pull requests into the four attention
// categories: unaddressed feedback, changes requested, awaiting review, and
// stale. Classification is a pure function over entries plus the ack overlay.
package actionable

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/worklist"
)

// DefaultStaleDays is the inactivity threshold for the stale category.
const DefaultStaleDays = 3

// DefaultBotPatterns matches the common bot-account naming conventions.
var DefaultBotPatterns = []string{`\[bot\]$`, `-bot$`}

// Category names, in priority order. A PR lands in the first that matches.
const (
	CategoryUnaddressed      = "unaddressed"
	CategoryChangesRequested = "changes_requested"
	CategoryAwaitingReview   = "awaiting_review"
	CategoryStale            = "stale"
)

// Perspective filters results by PR authorship relative to the configured
// user.
type Perspective string

const (
	PerspectiveAll     Perspective = ""
	PerspectiveMine    Perspective = "mine"
	PerspectiveReviews Perspective = "reviews"
)

// Input carries everything derivation needs. Now must be set by the caller
// so results are reproducible.
type Input struct {
	Entries  []*model.Entry
	AckedIDs map[string]struct{}

	// Username is the configured operator, used for thumbs-up ack detection
	// and the perspective filter.
	Username string

	// CommitImpliesRead treats a commit by Username newer than an issue
	// comment as having addressed it.
	CommitImpliesRead bool

	// PRStates overrides the open/draft gate for unaddressed detection
	// (bulk-ack on closed PRs).
	PRStates []model.PRState

	Now         time.Time
	StaleDays   int
	BotPatterns []string
	Perspective Perspective
}

// Item is one classified PR.
type Item struct {
	Category    string              `json:"category"`
	Repo        string              `json:"repo"`
	PR          int                 `json:"pr"`
	PRTitle     string              `json:"pr_title"`
	PRAuthor    string              `json:"pr_author"`
	PRBranch    string              `json:"pr_branch,omitempty"`
	PRState     model.PRState       `json:"pr_state"`
	Description string              `json:"description"`
	Count       int                 `json:"count"`
	URL         string              `json:"url,omitempty"`
	Graphite    *model.GraphiteInfo `json:"graphite,omitempty"`

	// Comments holds the unaddressed comment entries for CategoryUnaddressed;
	// the feedback pipeline bulk-acks over them.
	Comments []*model.Entry `json:"-"`
}

// Result groups classified items by category.
type Result struct {
	Unaddressed      []*Item `json:"unaddressed"`
	ChangesRequested []*Item `json:"changes_requested"`
	AwaitingReview   []*Item `json:"awaiting_review"`
	Stale            []*Item `json:"stale"`
}

// Items flattens the result in priority order.
func (r *Result) Items() []*Item {
	out := make([]*Item, 0, len(r.Unaddressed)+len(r.ChangesRequested)+len(r.AwaitingReview)+len(r.Stale))
	out = append(out, r.Unaddressed...)
	out = append(out, r.ChangesRequested...)
	out = append(out, r.AwaitingReview...)
	out = append(out, r.Stale...)
	return out
}

// Derive classifies every PR present in the input entries. Each PR lands in
// at most one category; unaddressed feedback wins over everything else.
func Derive(in Input) (*Result, error) {
	botRes, err := compileBotPatterns(in.BotPatterns)
	if err != nil {
		return nil, err
	}

	staleDays := in.StaleDays
	if staleDays <= 0 {
		staleDays = DefaultStaleDays
	}
	allowedStates := in.PRStates
	if len(allowedStates) == 0 {
		allowedStates = []model.PRState{model.StateOpen, model.StateDraft}
	}

	rows := worklist.Build(in.Entries)
	byPR := groupByPR(in.Entries)

	res := &Result{}
	for _, row := range rows {
		if !matchesPerspective(row.PRAuthor, in.Username, in.Perspective) {
			continue
		}
		item := &Item{
			Repo:     row.Repo,
			PR:       row.PR,
			PRTitle:  row.PRTitle,
			PRAuthor: row.PRAuthor,
			PRBranch: row.PRBranch,
			PRState:  row.PRState,
			URL:      prURL(row.Repo, row.PR),
			Graphite: row.Graphite,
			Count:    1,
		}

		unaddressed := unaddressedComments(byPR[row.PR], in, allowedStates, botRes)
		open := row.PRState == model.StateOpen || row.PRState == model.StateDraft

		switch {
		case len(unaddressed) > 0:
			item.Category = CategoryUnaddressed
			item.Count = len(unaddressed)
			item.Comments = unaddressed
			item.Description = describeUnaddressed(unaddressed)
			res.Unaddressed = append(res.Unaddressed, item)
		case open && row.ReviewStates.ChangesRequested > 0:
			item.Category = CategoryChangesRequested
			item.Description = describeChangesRequested(byPR[row.PR])
			res.ChangesRequested = append(res.ChangesRequested, item)
		case open && row.ReviewStates.Approved == 0 && row.ReviewStates.ChangesRequested == 0 && row.ReviewStates.Commented == 0:
			item.Category = CategoryAwaitingReview
			item.Description = "no reviews yet"
			res.AwaitingReview = append(res.AwaitingReview, item)
		case row.PRState == model.StateOpen &&
			row.LastActivityAt.Before(in.Now.Add(-time.Duration(staleDays)*24*time.Hour)) &&
			row.ReviewStates.ChangesRequested == 0:
			item.Category = CategoryStale
			item.Description = fmt.Sprintf("no activity for %dd", int(in.Now.Sub(row.LastActivityAt).Hours()/24))
			res.Stale = append(res.Stale, item)
		}
	}
	return res, nil
}

func compileBotPatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		patterns = DefaultBotPatterns
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("bad bot pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

func groupByPR(entries []*model.Entry) map[int][]*model.Entry {
	byPR := make(map[int][]*model.Entry)
	for _, e := range entries {
		byPR[e.PR] = append(byPR[e.PR], e)
	}
	return byPR
}

func matchesPerspective(prAuthor, username string, p Perspective) bool {
	switch p {
	case PerspectiveMine:
		return username != "" && strings.EqualFold(prAuthor, username)
	case PerspectiveReviews:
		return username == "" || !strings.EqualFold(prAuthor, username)
	}
	return true
}

// unaddressedComments returns the comments on one PR that still need a
// response, per the review-comment-first policy: a resolved thread always
// wins, an unknown thread state counts as unaddressed.
func unaddressedComments(entries []*model.Entry, in Input, allowedStates []model.PRState, botRes []*regexp.Regexp) []*model.Entry {
	var out []*model.Entry
	for _, e := range entries {
		if e.Type != model.TypeComment {
			continue
		}
		if !stateAllowed(e.PRState, allowedStates) {
			continue
		}
		if e.IsSelfComment() {
			continue
		}
		if isBot(e.Author, botRes) {
			continue
		}
		if isAddressed(e, in) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isAddressed(e *model.Entry, in Input) bool {
	if e.Subtype == model.SubtypeReviewComment {
		if e.ThreadResolved != nil && *e.ThreadResolved {
			return true
		}
		_, acked := in.AckedIDs[e.ID]
		return acked
	}

	// Issue comment: ack record, thumbs-up by the user, file activity, or
	// (opt-in) a later commit by the user.
	if _, acked := in.AckedIDs[e.ID]; acked {
		return true
	}
	if in.Username != "" && e.ThumbsUpFrom(in.Username) {
		return true
	}
	if e.FileActivity != nil && e.FileActivity.Modified {
		return true
	}
	if in.CommitImpliesRead && in.Username != "" && commitAfter(in.Entries, in.Username, e) {
		return true
	}
	return false
}

func commitAfter(entries []*model.Entry, username string, comment *model.Entry) bool {
	for _, c := range entries {
		if c.Type != model.TypeCommit || c.PR != comment.PR {
			continue
		}
		if strings.EqualFold(c.Author, username) && c.CreatedAt.After(comment.CreatedAt) {
			return true
		}
	}
	return false
}

func stateAllowed(st model.PRState, allowed []model.PRState) bool {
	for _, a := range allowed {
		if st == a {
			return true
		}
	}
	return false
}

func isBot(author string, botRes []*regexp.Regexp) bool {
	for _, re := range botRes {
		if re.MatchString(author) {
			return true
		}
	}
	return false
}

// describeUnaddressed enumerates the distinct comment authors by count,
// keeping the top three and summarising the rest.
func describeUnaddressed(comments []*model.Entry) string {
	counts := make(map[string]int)
	for _, c := range comments {
		counts[c.Author]++
	}
	type authorCount struct {
		author string
		n      int
	}
	ranked := make([]authorCount, 0, len(counts))
	for a, n := range counts {
		ranked = append(ranked, authorCount{a, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].author < ranked[j].author
	})

	shown := ranked
	if len(shown) > 3 {
		shown = shown[:3]
	}
	parts := make([]string, 0, len(shown))
	for _, ac := range shown {
		parts = append(parts, fmt.Sprintf("%s (%d)", ac.author, ac.n))
	}
	desc := "unaddressed feedback from " + strings.Join(parts, ", ")
	if extra := len(ranked) - len(shown); extra > 0 {
		desc += fmt.Sprintf(" +%d more", extra)
	}
	return desc
}

func describeChangesRequested(entries []*model.Entry) string {
	var authors []string
	seen := map[string]bool{}
	for _, e := range entries {
		if e.Type == model.TypeReview && strings.EqualFold(e.State, model.ReviewChangesRequested) && !seen[e.Author] {
			seen[e.Author] = true
			authors = append(authors, e.Author)
		}
	}
	if len(authors) == 0 {
		return "changes requested"
	}
	sort.Strings(authors)
	return "changes requested by " + strings.Join(authors, ", ")
}

func prURL(repo string, pr int) string {
	return fmt.Sprintf("https://github.com/%s/pull/%d", repo, pr)
}
