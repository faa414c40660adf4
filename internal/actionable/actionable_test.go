package actionable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/model"
)

var testNow = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

func review(id string, pr int, author, state string, createdAt time.Time) *model.Entry {
	return &model.Entry{
		ID: id, Repo: "acme/rockets", PR: pr, PRState: model.StateOpen,
		PRAuthor: "alice", PRTitle: "Widget", Type: model.TypeReview,
		Author: author, State: state, CreatedAt: createdAt,
	}
}

func issueComment(id string, pr int, author string, createdAt time.Time) *model.Entry {
	return &model.Entry{
		ID: id, Repo: "acme/rockets", PR: pr, PRState: model.StateOpen,
		PRAuthor: "alice", PRTitle: "Widget", Type: model.TypeComment,
		Subtype: model.SubtypeIssueComment, Author: author, CreatedAt: createdAt,
	}
}

func reviewComment(id string, pr int, author string, resolved *bool, createdAt time.Time) *model.Entry {
	return &model.Entry{
		ID: id, Repo: "acme/rockets", PR: pr, PRState: model.StateOpen,
		PRAuthor: "alice", PRTitle: "Widget", Type: model.TypeComment,
		Subtype: model.SubtypeReviewComment, Author: author,
		ThreadResolved: resolved, CreatedAt: createdAt,
	}
}

func prs(items []*Item) []int {
	var out []int
	for _, it := range items {
		out = append(out, it.PR)
	}
	return out
}

// A changes_requested review plus a self-comment: the PR lands in
// changes_requested only, since comments by the PR author are suppressed.
func TestClassificationMatrix(t *testing.T) {
	entries := []*model.Entry{
		review("R_bob", 10, "bob", "changes_requested", time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC)),
		issueComment("IC_alice", 10, "alice", time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)),
	}

	res, err := Derive(Input{Entries: entries, Now: testNow})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)
	assert.Equal(t, []int{10}, prs(res.ChangesRequested))
	assert.Contains(t, res.ChangesRequested[0].Description, "bob")
}

// An unresolved review comment outranks the changes_requested review: the PR
// moves to unaddressed and appears nowhere else.
func TestUnaddressedPrecedence(t *testing.T) {
	unresolved := false
	entries := []*model.Entry{
		review("R_bob", 10, "bob", "changes_requested", time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC)),
		issueComment("IC_alice", 10, "alice", time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)),
		reviewComment("RC_carol", 10, "carol", &unresolved, time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC)),
	}

	res, err := Derive(Input{Entries: entries, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, prs(res.Unaddressed))
	assert.Empty(t, res.ChangesRequested)
	require.Len(t, res.Unaddressed[0].Comments, 1)
	assert.Equal(t, "RC_carol", res.Unaddressed[0].Comments[0].ID)
}

// Acking the comment returns the PR to changes_requested.
func TestAckOverlay(t *testing.T) {
	unresolved := false
	entries := []*model.Entry{
		review("R_bob", 10, "bob", "changes_requested", time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC)),
		reviewComment("RC_carol", 10, "carol", &unresolved, time.Date(2025, 1, 2, 5, 0, 0, 0, time.UTC)),
	}

	res, err := Derive(Input{
		Entries:  entries,
		AckedIDs: map[string]struct{}{"RC_carol": {}},
		Now:      testNow,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)
	assert.Equal(t, []int{10}, prs(res.ChangesRequested))
}

func TestStaleThreshold(t *testing.T) {
	approved := review("R_ok", 13, "bob", "approved", testNow.Add(-10*24*time.Hour))
	old := issueComment("IC_old", 13, "alice", testNow.Add(-10*24*time.Hour))

	res, err := Derive(Input{Entries: []*model.Entry{approved, old}, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, []int{13}, prs(res.Stale))
	assert.Contains(t, res.Stale[0].Description, "10d")
}

func TestStaleExcludesDraftAndChangesRequested(t *testing.T) {
	// Draft PRs never go stale.
	draft := issueComment("IC_d", 20, "alice", testNow.Add(-10*24*time.Hour))
	draft.PRState = model.StateDraft

	// A PR with changes requested belongs to that category, not stale.
	cr := review("R_cr", 21, "bob", "changes_requested", testNow.Add(-10*24*time.Hour))

	res, err := Derive(Input{Entries: []*model.Entry{draft, cr}, Now: testNow})
	require.NoError(t, err)
	assert.Empty(t, res.Stale)
	assert.Equal(t, []int{21}, prs(res.ChangesRequested))
	// The draft with no reviews awaits review instead.
	assert.NotContains(t, prs(res.AwaitingReview), 21)
}

func TestAwaitingReview(t *testing.T) {
	fresh := issueComment("IC_f", 30, "alice", testNow.Add(-time.Hour))

	res, err := Derive(Input{Entries: []*model.Entry{fresh}, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, []int{30}, prs(res.AwaitingReview))
}

func TestResolvedThreadNeverUnaddressed(t *testing.T) {
	resolved := true
	rc := reviewComment("RC_done", 10, "carol", &resolved, testNow.Add(-time.Hour))

	res, err := Derive(Input{Entries: []*model.Entry{rc}, Now: testNow})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)
}

func TestUnknownThreadStateIsUnaddressed(t *testing.T) {
	rc := reviewComment("RC_unknown", 10, "carol", nil, testNow.Add(-time.Hour))

	res, err := Derive(Input{Entries: []*model.Entry{rc}, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, prs(res.Unaddressed))
}

func TestBotCommentsExcluded(t *testing.T) {
	entries := []*model.Entry{
		issueComment("IC_dep", 10, "dependabot[bot]", testNow.Add(-time.Hour)),
		issueComment("IC_sonar", 10, "sonar-bot", testNow.Add(-time.Hour)),
		issueComment("IC_human", 10, "bobalice", testNow.Add(-time.Hour)),
	}

	res, err := Derive(Input{Entries: entries, Now: testNow})
	require.NoError(t, err)
	require.Len(t, res.Unaddressed, 1)
	require.Len(t, res.Unaddressed[0].Comments, 1)
	assert.Equal(t, "IC_human", res.Unaddressed[0].Comments[0].ID)
}

func TestThumbsUpActsAsAck(t *testing.T) {
	ic := issueComment("IC_1", 10, "bob", testNow.Add(-time.Hour))
	ic.Reactions = &model.Reactions{ThumbsUpBy: []string{"Alice"}}

	res, err := Derive(Input{Entries: []*model.Entry{ic}, Username: "alice", Now: testNow})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)
}

func TestCommitImpliesRead(t *testing.T) {
	ic := issueComment("IC_1", 10, "bob", testNow.Add(-2*time.Hour))
	commit := &model.Entry{
		ID: "K_1", Repo: "acme/rockets", PR: 10, PRState: model.StateOpen,
		PRAuthor: "alice", Type: model.TypeCommit, Author: "alice",
		CreatedAt: testNow.Add(-time.Hour),
	}

	// Off by default: the comment stays unaddressed.
	res, err := Derive(Input{Entries: []*model.Entry{ic, commit}, Username: "alice", Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, prs(res.Unaddressed))

	// Opted in: the later commit addresses it.
	res, err = Derive(Input{
		Entries: []*model.Entry{ic, commit}, Username: "alice",
		CommitImpliesRead: true, Now: testNow,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)
}

func TestDescribeUnaddressedTopThree(t *testing.T) {
	var entries []*model.Entry
	authors := []string{"bob", "bob", "carol", "dave", "erin"}
	for i, a := range authors {
		entries = append(entries, issueComment(
			string(rune('A'+i))+"_ic", 10, a, testNow.Add(-time.Hour)))
	}

	res, err := Derive(Input{Entries: entries, Now: testNow})
	require.NoError(t, err)
	require.Len(t, res.Unaddressed, 1)
	desc := res.Unaddressed[0].Description
	assert.Contains(t, desc, "bob (2)")
	assert.Contains(t, desc, "+1 more")
	assert.Equal(t, 5, res.Unaddressed[0].Count)
}

func TestPerspective(t *testing.T) {
	mine := issueComment("IC_1", 10, "bob", testNow.Add(-time.Hour))
	theirs := issueComment("IC_2", 11, "alice", testNow.Add(-time.Hour))
	theirs.PRAuthor = "bob"

	res, err := Derive(Input{
		Entries: []*model.Entry{mine, theirs}, Username: "alice",
		Now: testNow, Perspective: PerspectiveMine,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, prs(res.Items()[:1]))
	for _, it := range res.Items() {
		assert.Equal(t, "alice", it.PRAuthor)
	}

	res, err = Derive(Input{
		Entries: []*model.Entry{mine, theirs}, Username: "alice",
		Now: testNow, Perspective: PerspectiveReviews,
	})
	require.NoError(t, err)
	for _, it := range res.Items() {
		assert.Equal(t, "bob", it.PRAuthor)
	}
}

func TestClosedPRStatesOverride(t *testing.T) {
	rc := reviewComment("RC_1", 10, "carol", nil, testNow.Add(-time.Hour))
	rc.PRState = model.StateMerged

	// Default gate: closed PRs have no unaddressed feedback.
	res, err := Derive(Input{Entries: []*model.Entry{rc}, Now: testNow})
	require.NoError(t, err)
	assert.Empty(t, res.Unaddressed)

	// Bulk-ack paths widen the gate explicitly.
	res, err = Derive(Input{
		Entries: []*model.Entry{rc}, Now: testNow,
		PRStates: []model.PRState{model.StateOpen, model.StateDraft, model.StateClosed, model.StateMerged},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, prs(res.Unaddressed))
}

func TestBadBotPattern(t *testing.T) {
	_, err := Derive(Input{
		Entries:     []*model.Entry{issueComment("IC", 1, "bob", testNow)},
		BotPatterns: []string{"("},
		Now:         testNow,
	})
	require.Error(t, err)
}
