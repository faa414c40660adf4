package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/github"
	"github.com/firewatch/firewatch/internal/model"
)

func TestNormalizeSkipsPendingReviews(t *testing.T) {
	now := time.Now().UTC()
	d := &github.PRDetail{
		PRSummary: github.PRSummary{Number: 7, Title: "Widget", Author: "alice", State: "OPEN"},
		Reviews: []github.Review{
			{ID: "RV_1", Author: "bob", State: "PENDING", CreatedAt: now},
			{ID: "RV_2", Author: "bob", State: "APPROVED", CreatedAt: now},
		},
	}

	entries := Normalize("acme/rockets", d)
	require.Len(t, entries, 1)
	assert.Equal(t, "RV_2", entries[0].ID)
	assert.Equal(t, "approved", entries[0].State, "review states normalize to lowercase")
}

func TestNormalizePRFieldsStamped(t *testing.T) {
	now := time.Now().UTC()
	unresolved := false
	d := &github.PRDetail{
		PRSummary: github.PRSummary{
			Number: 7, Title: "Widget", Author: "alice", State: "OPEN",
			HeadRef: "feature", Labels: []string{"bug"},
		},
		ReviewComments: []github.ReviewComment{
			{ID: "RC_1", Author: "bob", Body: "nit", Path: "main.go", Line: 12,
				ThreadResolved: &unresolved, CreatedAt: now},
		},
		IssueComments: []github.IssueComment{
			{ID: "IC_1", Author: "carol", Body: "lgtm", ThumbsUpBy: []string{"alice"}, CreatedAt: now},
		},
	}

	entries := Normalize("acme/rockets", d)
	require.Len(t, entries, 2)

	rc := entries[0]
	assert.Equal(t, model.SubtypeReviewComment, rc.Subtype)
	assert.Equal(t, "main.go", rc.File)
	assert.Equal(t, 12, rc.Line)
	require.NotNil(t, rc.ThreadResolved)
	assert.False(t, *rc.ThreadResolved)
	assert.Equal(t, model.StateOpen, rc.PRState)
	assert.Equal(t, "feature", rc.PRBranch)
	assert.Equal(t, []string{"bug"}, rc.PRLabels)

	ic := entries[1]
	assert.Equal(t, model.SubtypeIssueComment, ic.Subtype)
	require.NotNil(t, ic.Reactions)
	assert.Equal(t, []string{"alice"}, ic.Reactions.ThumbsUpBy)
}

func TestNormalizeCommitFirstLine(t *testing.T) {
	now := time.Now().UTC()
	d := &github.PRDetail{
		PRSummary: github.PRSummary{Number: 7, Author: "alice", State: "OPEN"},
		Commits: []github.Commit{
			{OID: "abc123", Author: "alice", Message: "fix the flake\n\nlong explanation", CommittedAt: now},
		},
	}

	entries := Normalize("acme/rockets", d)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TypeCommit, entries[0].Type)
	assert.Equal(t, "fix the flake", entries[0].Body)
}

func TestNormalizeCheckState(t *testing.T) {
	now := time.Now().UTC()
	d := &github.PRDetail{
		PRSummary: github.PRSummary{Number: 7, Author: "alice", State: "OPEN", UpdatedAt: now},
		Checks: []github.CheckRun{
			{NodeID: "CK_1", Name: "build", Status: "COMPLETED", Conclusion: "FAILURE", CompletedAt: now},
			{NodeID: "CK_2", Name: "lint", Status: "IN_PROGRESS"},
		},
	}

	entries := Normalize("acme/rockets", d)
	require.Len(t, entries, 2)
	assert.Equal(t, "failure", entries[0].State, "conclusion wins once the run finished")
	assert.Equal(t, "in_progress", entries[1].State)
	assert.Equal(t, now, entries[0].CreatedAt)
	assert.Equal(t, now, entries[1].CreatedAt, "a running check falls back to the PR update time")
}

func TestNormalizeDraftState(t *testing.T) {
	d := &github.PRDetail{
		PRSummary: github.PRSummary{Number: 7, Author: "alice", State: "OPEN", IsDraft: true},
		IssueComments: []github.IssueComment{
			{ID: "IC_1", Author: "bob", CreatedAt: time.Now().UTC()},
		},
	}

	entries := Normalize("acme/rockets", d)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StateDraft, entries[0].PRState)
}
