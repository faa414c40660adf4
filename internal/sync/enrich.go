package sync

import (
	"context"
	"fmt"

	"github.com/firewatch/firewatch/internal/model"
)

// Enricher attaches side-band metadata to entries during sync. Enrichers may
// read local state (a CLI's cache file, for example) but must not block on
// the network, and must not touch an entry's identity or scope keys.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, e *model.Entry) error
}

// identity is the snapshot of the fields an enricher must not change.
type identity struct {
	id, repo string
	pr       int
	typ      model.EntryType
	subtype  string
}

func snapshot(e *model.Entry) identity {
	return identity{id: e.ID, repo: e.Repo, pr: e.PR, typ: e.Type, subtype: e.Subtype}
}

// enrich runs every configured enricher over one entry, enforcing the
// identity invariant by snapshot comparison.
func (e *Engine) enrich(ctx context.Context, entry *model.Entry) error {
	for _, enricher := range e.opts.Enrichers {
		before := snapshot(entry)
		if err := enricher.Enrich(ctx, entry); err != nil {
			return fmt.Errorf("enricher %s: %w", enricher.Name(), err)
		}
		if snapshot(entry) != before {
			return fmt.Errorf("enricher %s mutated entry identity for %s", enricher.Name(), before.id)
		}
	}
	return nil
}
