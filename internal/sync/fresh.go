package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/firewatch/firewatch/internal/model"
)

// DefaultStaleThreshold is how old a checkpoint may be before a query-path
// caller re-syncs.
const DefaultStaleThreshold = 5 * time.Minute

// CacheMissError reports a no-sync request against a partition that has
// never been synced.
type CacheMissError struct {
	Repo  string
	Scope model.Scope
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("no cached data for %s (%s scope); run sync first", e.Repo, e.Scope)
}

// FreshOptions tunes EnsureFresh.
type FreshOptions struct {
	// NoSync forces offline operation; a cold partition is a CacheMissError.
	NoSync bool
	// StaleThreshold overrides DefaultStaleThreshold.
	StaleThreshold time.Duration
}

// EnsureFresh re-syncs (repo, scope) when its checkpoint is older than the
// stale threshold. It is the gate every query surface passes through before
// reading the store.
func (e *Engine) EnsureFresh(ctx context.Context, repo string, scope model.Scope, opts FreshOptions) error {
	meta, err := e.store.GetSyncMeta(ctx, repo, scope)
	if err != nil {
		return err
	}

	if opts.NoSync {
		if meta == nil {
			return &CacheMissError{Repo: repo, Scope: scope}
		}
		return nil
	}

	threshold := opts.StaleThreshold
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}
	if meta != nil && time.Since(meta.LastSync) <= threshold {
		return nil
	}

	_, err = e.Sync(ctx, repo, scope, ModeIncremental)
	return err
}
