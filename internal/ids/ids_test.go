package ids

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/model"
)

const testRepo = "acme/rockets"

// fakeSource serves a fixed entry set and counts store reads.
type fakeSource struct {
	entries []*model.Entry
	queries int
}

func (f *fakeSource) QueryEntries(ctx context.Context, filter model.EntryFilter, limit, offset int) ([]*model.Entry, error) {
	f.queries++
	return f.entries, nil
}

func comment(id string, pr int) *model.Entry {
	return &model.Entry{
		ID:      id,
		Repo:    testRepo,
		PR:      pr,
		Type:    model.TypeComment,
		Subtype: model.SubtypeReviewComment,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"42", KindPR},
		{"0", KindPR},
		{"a1b2c", KindShort},
		{"@a1b2c", KindShort},
		{"PRRC_kwDOABCD1234efgh", KindFull},
		{"IC_kwDOXYZ9876_abc-def", KindFull},
		{"", KindUnknown},
		{"@xyz", KindUnknown},
		{"A1B2C", KindUnknown},   // short ids are lowercase hex
		{"deadbeef", KindUnknown}, // 8 hex chars is neither short nor node id
		{"not an id", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

func TestShortIDDeterminism(t *testing.T) {
	a := ShortID("PRRC_kwDOABCD1234", testRepo)
	b := ShortID("PRRC_kwDOABCD1234", testRepo)
	assert.Equal(t, a, b)
	assert.Len(t, a, 5)
	assert.Regexp(t, `^[0-9a-f]{5}$`, a)

	// The repo participates in the hash.
	other := ShortID("PRRC_kwDOABCD1234", "other/repo")
	assert.NotEqual(t, a, other)

	assert.Equal(t, "@"+a, Display(a))
}

func TestResolveBatchRoundTrip(t *testing.T) {
	e := comment("PRRC_kwDOABCD1234efgh", 7)
	src := &fakeSource{entries: []*model.Entry{e}}
	r := NewResolver(src)
	ctx := context.Background()

	short := ShortID(e.ID, testRepo)
	results := r.ResolveBatch(ctx, testRepo, []string{"42", Display(short)})
	require.Len(t, results, 2)

	assert.Equal(t, KindPR, results[0].Kind)
	assert.Equal(t, 42, results[0].PR)
	require.NoError(t, results[0].Err)

	require.NoError(t, results[1].Err)
	assert.Equal(t, KindShort, results[1].Kind)
	assert.Equal(t, e.ID, results[1].ID)
	assert.Equal(t, 7, results[1].PR)
	assert.Same(t, e, results[1].Entry)
	assert.Equal(t, 1, src.queries, "one lazy rebuild")

	// The warm cache serves the second call with zero store reads.
	results = r.ResolveBatch(ctx, testRepo, []string{Display(short), e.ID})
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, e.ID, results[1].ID)
	assert.Equal(t, 1, src.queries)
}

func TestResolveBatchSingleRebuildPerCall(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(src)

	results := r.ResolveBatch(context.Background(), testRepo, []string{"@aaaaa", "@bbbbb", "@ccccc"})
	for _, res := range results {
		var nf *NotFoundError
		require.ErrorAs(t, res.Err, &nf)
	}
	assert.Equal(t, 1, src.queries, "misses share one rebuild")
}

func TestResolveBatchFormatError(t *testing.T) {
	src := &fakeSource{}
	r := NewResolver(src)

	results := r.ResolveBatch(context.Background(), testRepo, []string{"???", "@toolong99"})
	for _, res := range results {
		var fe *FormatError
		require.ErrorAs(t, res.Err, &fe)
	}
	assert.Equal(t, 0, src.queries, "malformed inputs never hit the store")
}

func TestCollisionResolvesDeterministically(t *testing.T) {
	// Force a collision by seeding the cache through Rebuild with two
	// entries, then verifying the lexicographically smallest ID wins.
	a := comment("Z_node_id_colliding1", 1)
	b := comment("A_node_id_colliding2", 2)
	src := &fakeSource{entries: []*model.Entry{a, b}}
	r := NewResolver(src)
	require.NoError(t, r.Rebuild(context.Background(), testRepo))

	// Rewrite the index so both entries share one short bucket.
	short := ShortID(a.ID, testRepo)
	r.mu.Lock()
	r.cache[testRepo] = map[string]*cacheEntry{
		short: {
			fullIDs: []string{b.ID, a.ID}, // sorted: A_... before Z_...
			entries: map[string]*model.Entry{a.ID: a, b.ID: b},
		},
	}
	r.mu.Unlock()

	results := r.ResolveBatch(context.Background(), testRepo, []string{Display(short)})
	require.NoError(t, results[0].Err)
	assert.Equal(t, b.ID, results[0].ID, "smallest full ID wins")
	assert.Equal(t, 2, results[0].PR)
	assert.NotEmpty(t, results[0].Warning)
}

func TestInvalidate(t *testing.T) {
	e := comment("PRRC_kwDOABCD1234efgh", 7)
	src := &fakeSource{entries: []*model.Entry{e}}
	r := NewResolver(src)
	ctx := context.Background()
	short := Display(ShortID(e.ID, testRepo))

	r.ResolveBatch(ctx, testRepo, []string{short})
	require.Equal(t, 1, src.queries)

	r.Invalidate(testRepo)
	r.ResolveBatch(ctx, testRepo, []string{short})
	assert.Equal(t, 2, src.queries, "invalidate forces a rebuild")
}
