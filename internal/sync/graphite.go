package sync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/firewatch/firewatch/internal/model"
)

// graphiteCacheFile is the persisted stack state the Graphite CLI keeps at
// the repository root.
const graphiteCacheFile = ".graphite_cache_persist"

// GraphiteEnricher attaches stack position metadata to entries whose PR
// branch participates in a Graphite stack. It reads the CLI's local cache
// file once, lazily; no network.
type GraphiteEnricher struct {
	repoDir string

	once   sync.Once
	stacks map[string]model.GraphiteInfo // branch -> stack info
}

// NewGraphiteEnricher creates the enricher for a checked-out repo directory.
func NewGraphiteEnricher(repoDir string) *GraphiteEnricher {
	return &GraphiteEnricher{repoDir: repoDir}
}

// Name implements Enricher.
func (g *GraphiteEnricher) Name() string { return "graphite" }

// Enrich implements Enricher. Entries on branches outside any stack are left
// untouched.
func (g *GraphiteEnricher) Enrich(_ context.Context, e *model.Entry) error {
	g.once.Do(g.load)
	if info, ok := g.stacks[e.PRBranch]; ok {
		stack := info
		e.Graphite = &stack
	}
	return nil
}

// graphiteCache matches the slice of the CLI's persisted state we care
// about: branch names grouped into stacks.
type graphiteCache struct {
	Stacks []struct {
		ID       string   `json:"id"`
		Branches []string `json:"branches"`
	} `json:"stacks"`
}

func (g *GraphiteEnricher) load() {
	g.stacks = make(map[string]model.GraphiteInfo)
	data, err := os.ReadFile(filepath.Join(g.repoDir, graphiteCacheFile))
	if err != nil {
		return
	}
	var cache graphiteCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return
	}
	for _, stack := range cache.Stacks {
		for i, branch := range stack.Branches {
			g.stacks[branch] = model.GraphiteInfo{
				StackID:       stack.ID,
				StackPosition: i + 1,
				StackSize:     len(stack.Branches),
			}
		}
	}
}
