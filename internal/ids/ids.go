// Package ids implements Firewatch's short-ID scheme: deterministic 5-hex
// identifiers derived from SHA-256 of "{repo}:{full_id}", a process-lifetime
// cache, input classification, and batch resolution against the store.
package ids

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/firewatch/firewatch/internal/model"
)

// FormatError reports an input that is neither a PR number, a short ID, nor
// a full node ID.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unrecognized id %q: want a PR number, @xxxxx short id, or node id", e.Input)
}

// NotFoundError reports a well-formed ID with no matching entry.
type NotFoundError struct {
	Input string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no entry found for id %q", e.Input)
}

// Kind classifies a raw identifier argument.
type Kind int

const (
	KindUnknown Kind = iota
	KindPR
	KindShort
	KindFull
)

var (
	digitsRe  = regexp.MustCompile(`^[0-9]+$`)
	shortRe   = regexp.MustCompile(`^@?[0-9a-f]{5}$`)
	nodeIDRe  = regexp.MustCompile(`^[A-Z_]+[A-Za-z0-9_-]+$`)
	shortOnly = regexp.MustCompile(`^[0-9a-f]{5}$`)
)

// Classify determines what shape of identifier the input is.
func Classify(input string) Kind {
	s := strings.TrimSpace(input)
	switch {
	case s == "":
		return KindUnknown
	case digitsRe.MatchString(s):
		return KindPR
	case shortRe.MatchString(s):
		return KindShort
	case len(s) > 10 && nodeIDRe.MatchString(s):
		return KindFull
	default:
		return KindUnknown
	}
}

// ShortID derives the 5-hex short form for a node ID within a repo.
func ShortID(fullID, repo string) string {
	sum := sha256.Sum256([]byte(repo + ":" + fullID))
	return hex.EncodeToString(sum[:])[:5]
}

// Display renders a short ID in its user-facing @xxxxx form.
func Display(shortID string) string {
	return "@" + shortID
}

// cacheEntry holds every comment entry whose node ID hashes to one short ID
// in a repo. fullIDs stays sorted so collision resolution is deterministic.
type cacheEntry struct {
	fullIDs []string
	entries map[string]*model.Entry
}

// EntrySource is the slice of the store the resolver needs.
type EntrySource interface {
	QueryEntries(ctx context.Context, f model.EntryFilter, limit, offset int) ([]*model.Entry, error)
}

// Resolver maps user-supplied identifiers to PRs or entries. The short-ID
// index is process-local, guarded by a mutex, and rebuilt lazily from the
// store on miss; a warm cache serves lookups with no store reads.
type Resolver struct {
	store EntrySource

	mu    sync.Mutex
	cache map[string]map[string]*cacheEntry // repo -> short -> entry
}

// NewResolver creates a resolver over the given entry source.
func NewResolver(store EntrySource) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]map[string]*cacheEntry),
	}
}

// Resolution is the per-input outcome of ResolveBatch.
type Resolution struct {
	Kind    Kind
	Input   string
	PR      int          // KindPR: the number; KindShort/KindFull: owning PR
	ID      string       // full node ID
	ShortID string       // 5-hex form
	Entry   *model.Entry // the comment entry backing the ID
	Warning string       // set on short-ID collisions
	Err     error
}

// ResolveBatch resolves each input against the repo. PR numbers pass
// through; short and full IDs hit the cache, with at most one lazy rebuild
// from the store per call.
func (r *Resolver) ResolveBatch(ctx context.Context, repo string, inputs []string) []Resolution {
	out := make([]Resolution, len(inputs))
	rebuilt := false

	for i, input := range inputs {
		res := Resolution{Input: input, Kind: Classify(input)}
		switch res.Kind {
		case KindPR:
			var pr int
			_, _ = fmt.Sscanf(strings.TrimSpace(input), "%d", &pr)
			res.PR = pr
		case KindShort:
			short := strings.TrimPrefix(strings.TrimSpace(input), "@")
			r.resolveShort(ctx, repo, short, &res, &rebuilt)
		case KindFull:
			r.resolveFull(ctx, repo, strings.TrimSpace(input), &res, &rebuilt)
		default:
			res.Err = &FormatError{Input: input}
		}
		out[i] = res
	}
	return out
}

func (r *Resolver) resolveShort(ctx context.Context, repo, short string, res *Resolution, rebuilt *bool) {
	if !shortOnly.MatchString(short) {
		res.Err = &FormatError{Input: res.Input}
		return
	}
	ce := r.lookup(repo, short)
	if ce == nil && !*rebuilt {
		if err := r.Rebuild(ctx, repo); err != nil {
			res.Err = err
			return
		}
		*rebuilt = true
		ce = r.lookup(repo, short)
	}
	if ce == nil {
		res.Err = &NotFoundError{Input: res.Input}
		return
	}
	// Collisions resolve to the lexicographically smallest full ID.
	full := ce.fullIDs[0]
	res.ID = full
	res.ShortID = short
	res.Entry = ce.entries[full]
	if res.Entry != nil {
		res.PR = res.Entry.PR
	}
	if len(ce.fullIDs) > 1 {
		res.Warning = fmt.Sprintf("short id @%s is ambiguous across %d entries; using %s", short, len(ce.fullIDs), full)
	}
}

func (r *Resolver) resolveFull(ctx context.Context, repo, full string, res *Resolution, rebuilt *bool) {
	short := ShortID(full, repo)
	res.ID = full
	res.ShortID = short

	find := func() *model.Entry {
		ce := r.lookup(repo, short)
		if ce == nil {
			return nil
		}
		return ce.entries[full]
	}

	e := find()
	if e == nil && !*rebuilt {
		if err := r.Rebuild(ctx, repo); err != nil {
			res.Err = err
			return
		}
		*rebuilt = true
		e = find()
	}
	if e == nil {
		res.Err = &NotFoundError{Input: res.Input}
		return
	}
	res.Entry = e
	res.PR = e.PR
}

func (r *Resolver) lookup(repo, short string) *cacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.cache[repo]
	if m == nil {
		return nil
	}
	return m[short]
}

// Rebuild reindexes every comment entry for the repo into the short-ID
// cache.
func (r *Resolver) Rebuild(ctx context.Context, repo string) error {
	entries, err := r.store.QueryEntries(ctx, model.EntryFilter{
		Repo:          repo,
		Types:         []model.EntryType{model.TypeComment},
		IncludeFrozen: true,
	}, 0, 0)
	if err != nil {
		return err
	}

	m := make(map[string]*cacheEntry)
	for _, e := range entries {
		short := ShortID(e.ID, repo)
		ce := m[short]
		if ce == nil {
			ce = &cacheEntry{entries: make(map[string]*model.Entry)}
			m[short] = ce
		}
		ce.fullIDs = append(ce.fullIDs, e.ID)
		ce.entries[e.ID] = e
	}
	for _, ce := range m {
		sort.Strings(ce.fullIDs)
	}

	r.mu.Lock()
	r.cache[repo] = m
	r.mu.Unlock()
	return nil
}

// Invalidate drops the cached index for a repo (after clear operations).
func (r *Resolver) Invalidate(repo string) {
	r.mu.Lock()
	delete(r.cache, repo)
	r.mu.Unlock()
}
