package sync

import (
	"strings"
	"time"

	"github.com/firewatch/firewatch/internal/common/stringutil"
	"github.com/firewatch/firewatch/internal/github"
	"github.com/firewatch/firewatch/internal/model"
)

// Normalize converts a PR's child collections into store entries. Reviews in
// PENDING state are skipped: they are not observable activity yet.
func Normalize(repo string, d *github.PRDetail) []*model.Entry {
	now := time.Now().UTC()
	prState := model.ParsePRState(d.State, d.IsDraft)

	base := func(id string, typ model.EntryType, createdAt time.Time) *model.Entry {
		return &model.Entry{
			ID:         id,
			Repo:       repo,
			PR:         d.Number,
			PRState:    prState,
			PRAuthor:   d.Author,
			PRTitle:    d.Title,
			PRBranch:   d.HeadRef,
			PRLabels:   d.Labels,
			Type:       typ,
			CreatedAt:  createdAt.UTC(),
			CapturedAt: now,
		}
	}

	entries := make([]*model.Entry, 0,
		len(d.Reviews)+len(d.ReviewComments)+len(d.IssueComments)+len(d.Commits)+len(d.Checks))

	for _, r := range d.Reviews {
		if strings.EqualFold(r.State, "PENDING") {
			continue
		}
		e := base(r.ID, model.TypeReview, r.CreatedAt)
		e.Author = r.Author
		e.AuthorLogin = r.Author
		e.State = strings.ToLower(r.State)
		e.Body = r.Body
		e.URL = r.URL
		entries = append(entries, e)
	}

	for _, rc := range d.ReviewComments {
		e := base(rc.ID, model.TypeComment, rc.CreatedAt)
		e.Subtype = model.SubtypeReviewComment
		e.Author = rc.Author
		e.AuthorLogin = rc.Author
		e.Body = rc.Body
		e.File = rc.Path
		e.Line = rc.Line
		e.DatabaseID = rc.DatabaseID
		e.ThreadResolved = rc.ThreadResolved
		e.URL = rc.URL
		entries = append(entries, e)
	}

	for _, ic := range d.IssueComments {
		e := base(ic.ID, model.TypeComment, ic.CreatedAt)
		e.Subtype = model.SubtypeIssueComment
		e.Author = ic.Author
		e.AuthorLogin = ic.Author
		e.Body = ic.Body
		e.DatabaseID = ic.DatabaseID
		e.URL = ic.URL
		if len(ic.ThumbsUpBy) > 0 {
			e.Reactions = &model.Reactions{ThumbsUpBy: ic.ThumbsUpBy}
		}
		entries = append(entries, e)
	}

	for _, cm := range d.Commits {
		e := base(cm.OID, model.TypeCommit, cm.CommittedAt)
		e.Author = cm.Author
		e.AuthorLogin = cm.Author
		e.Body = stringutil.FirstLine(cm.Message)
		entries = append(entries, e)
	}

	for _, ck := range d.Checks {
		createdAt := ck.CompletedAt
		if createdAt.IsZero() {
			createdAt = d.UpdatedAt
		}
		e := base(ck.NodeID, model.TypeCI, createdAt)
		e.Body = ck.Name
		e.State = checkState(ck)
		e.URL = ck.URL
		entries = append(entries, e)
	}

	return entries
}

// checkState folds a check's status and conclusion into one lowercase state:
// the conclusion once finished, the status while running.
func checkState(ck github.CheckRun) string {
	if ck.Conclusion != "" {
		return strings.ToLower(ck.Conclusion)
	}
	return strings.ToLower(ck.Status)
}
