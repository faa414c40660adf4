package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/common/sqlite"
	"github.com/firewatch/firewatch/internal/db"
	"github.com/firewatch/firewatch/internal/model"
)

const testRepo = "acme/rockets"

// setupTestStore creates a store over a shared in-memory SQLite handle.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	mem, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	s, err := NewStore(mem, mem)
	require.NoError(t, err)
	return s
}

func testEntry(id string, pr int, typ model.EntryType, author string, createdAt time.Time) *model.Entry {
	return &model.Entry{
		ID:        id,
		Repo:      testRepo,
		PR:        pr,
		PRState:   model.StateOpen,
		PRAuthor:  "alice",
		PRTitle:   fmt.Sprintf("PR %d", pr),
		PRBranch:  "feature",
		Type:      typ,
		Author:    author,
		CreatedAt: createdAt,
	}
}

func TestStoreSchema(t *testing.T) {
	s := setupTestStore(t)

	for _, col := range []string{"thread_resolved", "file_activity", "thumbs_up_by", "graphite"} {
		ok, err := sqlite.ColumnExists(s.db.DB, "entries", col)
		require.NoError(t, err)
		assert.True(t, ok, "entries.%s missing", col)
	}
}

func TestUpsertPreservesCapturedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)

	e := testEntry("C_one", 10, model.TypeComment, "bob", created)
	e.Subtype = model.SubtypeIssueComment
	e.Body = "first observation"
	e.CapturedAt = time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{e}))

	// Re-observe with new content and a later capture time.
	e2 := testEntry("C_one", 10, model.TypeComment, "bob", created)
	e2.Subtype = model.SubtypeIssueComment
	e2.Body = "edited body"
	e2.CapturedAt = time.Date(2025, 1, 3, 4, 0, 0, 0, time.UTC)
	resolved := true
	e2.ThreadResolved = &resolved
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{e2}))

	got, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "edited body", got[0].Body)
	require.NotNil(t, got[0].ThreadResolved)
	assert.True(t, *got[0].ThreadResolved)
	assert.WithinDuration(t, e.CapturedAt, got[0].CapturedAt, time.Second,
		"captured_at must keep the first observation")
}

func TestUpsertRoundTripsOptionalFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := testEntry("RC_1", 7, model.TypeComment, "carol", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	e.Subtype = model.SubtypeReviewComment
	e.PRLabels = []string{"bug", "Needs-Review"}
	e.File = "pkg/launch/engine.go"
	e.Line = 42
	e.DatabaseID = 991122
	unresolved := false
	e.ThreadResolved = &unresolved
	latest := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	e.FileActivity = &model.FileActivity{Modified: true, CommitsTouchingFile: 2, LatestCommit: "abc123", LatestCommitAt: &latest}
	e.Reactions = &model.Reactions{ThumbsUpBy: []string{"alice", "dave"}}
	e.Graphite = &model.GraphiteInfo{StackID: "st-1", StackPosition: 2, StackSize: 3}
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{e}))

	got, err := s.QueryEntries(ctx, model.EntryFilter{ID: "RC_1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	out := got[0]
	assert.Equal(t, []string{"bug", "Needs-Review"}, out.PRLabels)
	assert.Equal(t, "pkg/launch/engine.go", out.File)
	assert.Equal(t, 42, out.Line)
	assert.EqualValues(t, 991122, out.DatabaseID)
	require.NotNil(t, out.ThreadResolved)
	assert.False(t, *out.ThreadResolved)
	require.NotNil(t, out.FileActivity)
	assert.True(t, out.FileActivity.Modified)
	assert.Equal(t, 2, out.FileActivity.CommitsTouchingFile)
	require.NotNil(t, out.Reactions)
	assert.Equal(t, []string{"alice", "dave"}, out.Reactions.ThumbsUpBy)
	require.NotNil(t, out.Graphite)
	assert.Equal(t, "st-1", out.Graphite.StackID)
}

func TestQueryOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []*model.Entry{
		testEntry("B_tie", 1, model.TypeComment, "bob", base.Add(2*time.Hour)),
		testEntry("A_tie", 1, model.TypeComment, "bob", base.Add(2*time.Hour)),
		testEntry("C_new", 1, model.TypeComment, "bob", base.Add(3*time.Hour)),
		testEntry("D_old", 1, model.TypeComment, "bob", base.Add(time.Hour)),
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	got, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo}, 0, 0)
	require.NoError(t, err)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	// created_at DESC, ties by id ASC
	assert.Equal(t, []string{"C_new", "A_tie", "B_tie", "D_old"}, ids)
}

func TestQueryFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, pr int, typ model.EntryType, author string, offset time.Duration) *model.Entry {
		return testEntry(id, pr, typ, author, base.Add(offset))
	}
	e1 := mk("E_1", 1, model.TypeComment, "bob", 0)
	e2 := mk("E_2", 1, model.TypeReview, "carol", time.Hour)
	e3 := mk("E_3", 2, model.TypeCommit, "alice", 2*time.Hour)
	e4 := mk("E_4", 2, model.TypeComment, "dave", 3*time.Hour)
	e4.PRLabels = []string{"URGENT", "backend"}
	e5 := mk("E_5", 3, model.TypeComment, "erin", 4*time.Hour)
	e5.PRState = model.StateMerged
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{e1, e2, e3, e4, e5}))

	since := base.Add(2 * time.Hour)
	until := base.Add(time.Hour)

	tests := []struct {
		name   string
		filter model.EntryFilter
		want   []string
	}{
		{"by type", model.EntryFilter{Types: []model.EntryType{model.TypeReview}}, []string{"E_2"}},
		{"by type set", model.EntryFilter{Types: []model.EntryType{model.TypeReview, model.TypeCommit}}, []string{"E_3", "E_2"}},
		{"by pr set", model.EntryFilter{PRs: []int{2}}, []string{"E_4", "E_3"}},
		{"author include", model.EntryFilter{Authors: []string{"Bob", "CAROL"}}, []string{"E_2", "E_1"}},
		{"author exclude", model.EntryFilter{ExcludeAuthors: []string{"bob", "carol", "alice", "erin"}}, []string{"E_4"}},
		{"since", model.EntryFilter{Since: &since}, []string{"E_5", "E_4", "E_3"}},
		{"before", model.EntryFilter{Before: &until}, []string{"E_1"}},
		{"label substring", model.EntryFilter{Label: "urgent"}, []string{"E_4"}},
		{"states", model.EntryFilter{States: []model.PRState{model.StateMerged}}, []string{"E_5"}},
		{"exclude stale", model.EntryFilter{ExcludeStale: true}, []string{"E_4", "E_3", "E_2", "E_1"}},
		{"repo prefix", model.EntryFilter{RepoPrefix: "acme/"}, []string{"E_5", "E_4", "E_3", "E_2", "E_1"}},
		{"repo prefix miss", model.EntryFilter{RepoPrefix: "zorg/"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEntries(ctx, tt.filter, 0, 0)
			require.NoError(t, err)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestBotExclusion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	authors := []string{"dependabot[bot]", "sonar-bot", "bobalice"}
	var entries []*model.Entry
	for i, a := range authors {
		entries = append(entries, testEntry(fmt.Sprintf("BOT_%d", i), 1, model.TypeComment, a, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	got, err := s.QueryEntries(ctx, model.EntryFilter{
		Repo:        testRepo,
		ExcludeBots: true,
		BotPatterns: []string{`\[bot\]$`, `-bot$`},
	}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bobalice", got[0].Author)

	n, err := s.CountEntries(ctx, model.EntryFilter{
		Repo:        testRepo,
		ExcludeBots: true,
		BotPatterns: []string{`\[bot\]$`, `-bot$`},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueryPaging(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var entries []*model.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, testEntry(fmt.Sprintf("P_%d", i), 1, model.TypeComment, "bob", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.UpsertEntries(ctx, entries))

	got, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo}, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "P_3", got[0].ID)
	assert.Equal(t, "P_2", got[1].ID)

	// Paging with a Go-side predicate takes the refine path.
	got, err = s.QueryEntries(ctx, model.EntryFilter{
		Repo:        testRepo,
		ExcludeBots: true,
		BotPatterns: []string{`-bot$`},
	}, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "P_3", got[0].ID)
}

func TestFreezeMasking(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	frozenAt := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	before := testEntry("F_before", 5, model.TypeComment, "bob", frozenAt.Add(-time.Hour))
	after := testEntry("F_after", 5, model.TypeComment, "bob", frozenAt.Add(time.Hour))
	other := testEntry("F_other", 6, model.TypeComment, "bob", frozenAt.Add(time.Hour))
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{before, after, other}))

	require.NoError(t, s.SetFreeze(ctx, testRepo, 5, frozenAt))

	got, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo}, 0, 0)
	require.NoError(t, err)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"F_before", "F_other"}, ids)

	// Frozen visibility is an internal escape hatch for bulk paths.
	got, err = s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo, IncludeFrozen: true}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	frozen, err := s.FrozenPRs(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, 5, frozen[0].PR)

	require.NoError(t, s.ClearFreeze(ctx, testRepo, 5))
	err = s.ClearFreeze(ctx, testRepo, 5)
	var fe *FreezeError
	require.ErrorAs(t, err, &fe)
}

func TestAckOverlayStorage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	recs := []*model.AckRecord{
		{Repo: testRepo, CommentID: "C_a", PR: 1, AckedBy: "alice", ReactionAdded: true},
		{Repo: testRepo, CommentID: "C_b", PR: 1, AckedBy: "alice"},
	}
	require.NoError(t, s.InsertAcks(ctx, recs))

	// A newer ack for the same comment shadows the older one.
	require.NoError(t, s.InsertAck(ctx, &model.AckRecord{
		Repo: testRepo, CommentID: "C_a", PR: 1, AckedBy: "bob",
		AckedAt: time.Now().UTC().Add(time.Minute),
	}))

	ids, err := s.AckedIDs(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, ok := ids["C_a"]
	assert.True(t, ok)

	latest, err := s.LatestAcks(ctx, testRepo)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "C_a", latest[0].CommentID)
	assert.Equal(t, "bob", latest[0].AckedBy)

	// Acks are repo-scoped.
	ids, err = s.AckedIDs(ctx, "other/repo")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOrphanedFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	unresolved := false
	merged := testEntry("O_thread", 9, model.TypeComment, "carol", base)
	merged.PRState = model.StateMerged
	merged.Subtype = model.SubtypeReviewComment
	merged.ThreadResolved = &unresolved

	resolvedFlag := true
	closedResolved := testEntry("O_done", 11, model.TypeComment, "carol", base)
	closedResolved.PRState = model.StateClosed
	closedResolved.Subtype = model.SubtypeReviewComment
	closedResolved.ThreadResolved = &resolvedFlag

	open := testEntry("O_open", 12, model.TypeComment, "carol", base)
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{merged, closedResolved, open}))

	got, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo, Orphaned: true}, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "O_thread", got[0].ID)
}

func TestSyncMetaRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	meta, err := s.GetSyncMeta(ctx, testRepo, model.ScopeOpen)
	require.NoError(t, err)
	assert.Nil(t, meta, "missing meta reads as nil")

	lastSync := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetSyncMeta(ctx, &model.SyncMeta{
		Repo: testRepo, Scope: model.ScopeOpen, LastSync: lastSync, PRCount: 4, Cursor: "cur_abc",
	}))
	require.NoError(t, s.SetSyncMeta(ctx, &model.SyncMeta{
		Repo: testRepo, Scope: model.ScopeClosed, LastSync: lastSync.Add(time.Hour), PRCount: 9,
	}))

	meta, err = s.GetSyncMeta(ctx, testRepo, model.ScopeOpen)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 4, meta.PRCount)
	assert.Equal(t, "cur_abc", meta.Cursor)
	assert.WithinDuration(t, lastSync, meta.LastSync, time.Second)

	all, err := s.AllSyncMeta(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPRMetaUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := &model.PRMeta{
		Repo: testRepo, Number: 42, State: model.StateOpen, Title: "Add telemetry",
		Author: "alice", Branch: "telemetry", Labels: []string{"infra"},
		NodeID: "PR_kwDOtest42", UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.UpsertPR(ctx, m))

	m.State = model.StateMerged
	m.Title = "Add telemetry (v2)"
	require.NoError(t, s.UpsertPR(ctx, m))

	got, err := s.GetPR(ctx, testRepo, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StateMerged, got.State)
	assert.Equal(t, "Add telemetry (v2)", got.Title)
	assert.Equal(t, []string{"infra"}, got.Labels)

	missing, err := s.GetPR(ctx, testRepo, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListPRs(ctx, testRepo)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClearRepo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{testEntry("X_1", 1, model.TypeComment, "bob", now)}))
	require.NoError(t, s.UpsertPR(ctx, &model.PRMeta{Repo: testRepo, Number: 1, State: model.StateOpen, UpdatedAt: now}))
	require.NoError(t, s.InsertAck(ctx, &model.AckRecord{Repo: testRepo, CommentID: "X_1", PR: 1}))
	require.NoError(t, s.SetFreeze(ctx, testRepo, 1, now))
	require.NoError(t, s.SetSyncMeta(ctx, &model.SyncMeta{Repo: testRepo, Scope: model.ScopeOpen, LastSync: now}))

	keep := testEntry("K_1", 1, model.TypeComment, "bob", now)
	keep.Repo = "other/repo"
	require.NoError(t, s.UpsertEntries(ctx, []*model.Entry{keep}))

	require.NoError(t, s.ClearRepo(ctx, testRepo))

	entries, err := s.QueryEntries(ctx, model.EntryFilter{Repo: testRepo, IncludeFrozen: true}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	other, err := s.QueryEntries(ctx, model.EntryFilter{Repo: "other/repo"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	meta, err := s.GetSyncMeta(ctx, testRepo, model.ScopeOpen)
	require.NoError(t, err)
	assert.Nil(t, meta)

	ids, err := s.AckedIDs(ctx, testRepo)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
