// Package app is the service layer behind both surfaces: it wires the
// store, the GitHub client, the sync engine, the resolver, and the feedback
// pipeline, and exposes the operations the CLI and MCP tools call.
package app

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/firewatch/firewatch/internal/auth"
	"github.com/firewatch/firewatch/internal/common/config"
	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/feedback"
	"github.com/firewatch/firewatch/internal/github"
	"github.com/firewatch/firewatch/internal/ids"
	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/store"
	"github.com/firewatch/firewatch/internal/sync"
)

// App owns the long-lived services. The GitHub client is created lazily on
// the first operation that needs the network, so read-only work against a
// warm cache succeeds without a credential.
type App struct {
	cfg      *config.Config
	store    *store.Store
	resolver *ids.Resolver
	logger   *logger.Logger

	mu     stdsync.Mutex
	client github.Client
}

// New wires an App over an opened store.
func New(cfg *config.Config, st *store.Store, log *logger.Logger) *App {
	return &App{
		cfg:      cfg,
		store:    st,
		resolver: ids.NewResolver(st),
		logger:   log,
	}
}

// SetClient injects a GitHub client (tests).
func (a *App) SetClient(c github.Client) {
	a.mu.Lock()
	a.client = c
	a.mu.Unlock()
}

// Store exposes the underlying store to the surfaces.
func (a *App) Store() *store.Store { return a.store }

// Resolver exposes the short-ID resolver.
func (a *App) Resolver() *ids.Resolver { return a.resolver }

// Config exposes the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Client returns the GitHub client, detecting the token on first use.
func (a *App) Client() (github.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	token, err := auth.Token(a.cfg.GithubToken)
	if err != nil {
		return nil, err
	}
	a.client = github.NewPATClient(token, a.logger)
	return a.client, nil
}

// Engine builds a sync engine over the lazily-created client.
func (a *App) Engine() (*sync.Engine, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	var enrichers []sync.Enricher
	if a.cfg.GraphiteOn {
		enrichers = append(enrichers, sync.NewGraphiteEnricher("."))
	}
	return sync.NewEngine(a.store, client, sync.Options{
		Concurrency:   a.cfg.Sync.Concurrency,
		Timeout:       a.cfg.Sync.TimeoutDuration(),
		FirstLookback: a.cfg.DefaultSinceDuration(),
		Enrichers:     enrichers,
		FileActivity:  true,
	}, a.logger), nil
}

// Pipeline builds the feedback pipeline.
func (a *App) Pipeline() (*feedback.Pipeline, error) {
	client, err := a.Client()
	if err != nil {
		return nil, err
	}
	return feedback.NewPipeline(client, a.store, a.resolver, feedback.Options{
		Username:          a.cfg.User.GithubUsername,
		CommitImpliesRead: a.cfg.Feedback.CommitImpliesRead,
		BotPatterns:       a.cfg.Filters.BotPatterns,
		Concurrency:       a.cfg.Sync.Concurrency,
	}, a.logger), nil
}

// Poller builds a background poller over the configured repos.
func (a *App) Poller() (*sync.Poller, error) {
	engine, err := a.Engine()
	if err != nil {
		return nil, err
	}
	return sync.NewPoller(engine, a.cfg.Repos, a.cfg.Sync.StaleThresholdDuration(), sync.FreshOptions{
		StaleThreshold: a.cfg.Sync.StaleThresholdDuration(),
	}, a.logger), nil
}

// ensureFresh re-syncs the scopes covering the requested states, honouring
// auto_sync and the no-sync override. A cold cache in offline mode is a
// CacheMissError.
func (a *App) ensureFresh(ctx context.Context, repo string, states []model.PRState, noSync bool) error {
	offline := noSync || !a.cfg.Sync.AutoSync
	scopes := scopesFor(states)

	if offline {
		for _, scope := range scopes {
			meta, err := a.store.GetSyncMeta(ctx, repo, scope)
			if err != nil {
				return err
			}
			if meta == nil && noSync {
				return &sync.CacheMissError{Repo: repo, Scope: scope}
			}
		}
		return nil
	}

	engine, err := a.Engine()
	if err != nil {
		if isAuthError(err) {
			return a.serveWarmCache(ctx, repo, scopes, err)
		}
		return err
	}
	for _, scope := range scopes {
		err := engine.EnsureFresh(ctx, repo, scope, sync.FreshOptions{
			StaleThreshold: a.cfg.Sync.StaleThresholdDuration(),
		})
		if err != nil {
			if isAuthError(err) {
				return a.serveWarmCache(ctx, repo, scopes, err)
			}
			return err
		}
	}
	return nil
}

func isAuthError(err error) bool {
	var ae *github.AuthError
	return errors.As(err, &ae)
}

// serveWarmCache degrades a read to cached data when no usable credential
// exists: fine when every requested scope has been synced before, the auth
// error on a cold cache.
func (a *App) serveWarmCache(ctx context.Context, repo string, scopes []model.Scope, cause error) error {
	for _, scope := range scopes {
		meta, err := a.store.GetSyncMeta(ctx, repo, scope)
		if err != nil {
			return err
		}
		if meta == nil {
			return cause
		}
	}
	a.logger.WithRepo(repo).WithError(cause).Warn("no GitHub credential; serving cached data")
	return nil
}

func scopesFor(states []model.PRState) []model.Scope {
	if len(states) == 0 {
		return []model.Scope{model.ScopeOpen}
	}
	seen := map[model.Scope]bool{}
	var out []model.Scope
	for _, st := range states {
		s := model.ScopeForState(st)
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// now is injectable for tests.
var now = func() time.Time { return time.Now().UTC() }
