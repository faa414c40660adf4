package worklist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/model"
)

func entry(id string, pr int, typ model.EntryType, createdAt time.Time) *model.Entry {
	return &model.Entry{
		ID:        id,
		Repo:      "acme/rockets",
		PR:        pr,
		PRState:   model.StateOpen,
		PRAuthor:  "alice",
		PRTitle:   "Old title",
		Type:      typ,
		CreatedAt: createdAt,
	}
}

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, Build(nil))
}

func TestBuildCountsAndRollup(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	review := entry("R_1", 10, model.TypeReview, base.Add(time.Hour))
	review.State = "CHANGES_REQUESTED" // roll-up is case-insensitive
	approved := entry("R_2", 10, model.TypeReview, base.Add(2*time.Hour))
	approved.State = "approved"

	entries := []*model.Entry{
		entry("C_1", 10, model.TypeComment, base),
		entry("C_2", 10, model.TypeComment, base.Add(30*time.Minute)),
		review,
		approved,
		entry("K_1", 10, model.TypeCommit, base.Add(3*time.Hour)),
		entry("CI_1", 10, model.TypeCI, base.Add(4*time.Hour)),
	}

	rows := Build(entries)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 10, row.PR)
	assert.Equal(t, Counts{Comments: 2, Reviews: 2, Commits: 1, CI: 1}, row.Counts)
	assert.Equal(t, ReviewStates{Approved: 1, ChangesRequested: 1}, row.ReviewStates)
	assert.Equal(t, base.Add(4*time.Hour), row.LastActivityAt)
}

func TestBuildLatestEntryWinsPRFields(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	old := entry("C_1", 5, model.TypeComment, base)
	old.PRTitle = "Draft: wire telemetry"
	old.PRState = model.StateDraft

	fresh := entry("C_2", 5, model.TypeComment, base.Add(time.Hour))
	fresh.PRTitle = "Wire telemetry"
	fresh.PRState = model.StateOpen

	// Input order must not matter.
	rows := Build([]*model.Entry{fresh, old})
	require.Len(t, rows, 1)
	assert.Equal(t, "Wire telemetry", rows[0].PRTitle)
	assert.Equal(t, model.StateOpen, rows[0].PRState)
}

func TestBuildOrdering(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []*model.Entry{
		entry("A", 3, model.TypeComment, base.Add(time.Hour)),
		entry("B", 1, model.TypeComment, base.Add(2*time.Hour)),
		entry("C", 7, model.TypeComment, base.Add(time.Hour)), // ties with PR 3
	}

	rows := Build(entries)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, rows[0].PR, "freshest activity first")
	assert.Equal(t, 3, rows[1].PR, "ties break by PR number ascending")
	assert.Equal(t, 7, rows[2].PR)
}

func TestBuildGraphitePropagation(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	plain := entry("C_1", 2, model.TypeComment, base)
	stacked := entry("C_2", 2, model.TypeComment, base.Add(time.Minute))
	stacked.Graphite = &model.GraphiteInfo{StackID: "st-9", StackPosition: 1, StackSize: 3}

	rows := Build([]*model.Entry{plain, stacked})
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Graphite)
	assert.Equal(t, "st-9", rows[0].Graphite.StackID)
}
