package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/model"
)

const defaultPollInterval = 5 * time.Minute

// Poller keeps a set of repos fresh in the background (long-running MCP
// mode). Each tick runs EnsureFresh over every configured repo and scope,
// logging and continuing on per-repo failures.
type Poller struct {
	engine   *Engine
	repos    []string
	interval time.Duration
	fresh    FreshOptions
	logger   *logger.Logger

	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	started bool
}

// NewPoller creates a background poller over the given repos.
func NewPoller(engine *Engine, repos []string, interval time.Duration, fresh FreshOptions, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		engine:   engine,
		repos:    repos,
		interval: interval,
		fresh:    fresh,
		logger:   log,
	}
}

// Start begins the polling loop with an immediate first pass. Calling Start
// more than once without Stop is a no-op.
func (p *Poller) Start(ctx context.Context) {
	if p.started || len(p.repos) == 0 {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("sync poller started",
		zap.Strings("repos", p.repos), zap.Duration("interval", p.interval))
}

// Stop cancels the loop and waits for it to finish.
func (p *Poller) Stop() {
	if !p.started {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.started = false
	p.logger.Info("sync poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.pass(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

func (p *Poller) pass(ctx context.Context) {
	for _, repo := range p.repos {
		for _, scope := range []model.Scope{model.ScopeOpen, model.ScopeClosed} {
			if err := p.engine.EnsureFresh(ctx, repo, scope, p.fresh); err != nil {
				p.logger.WithRepo(repo).Warn("background sync failed",
					zap.String("scope", string(scope)), zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
