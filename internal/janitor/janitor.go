package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admin-gateway/internal/audit"
	"admin-gateway/internal/config"
	"admin-gateway/internal/ratelimit"
	"admin-gateway/internal/session"
	"admin-gateway/internal/token"
)

// Janitor runs the periodic maintenance loops: rate-limit window
// cleanup, expired-session removal, blacklist pruning, and the audit
// archive flush. Each loop ticks independently; all stop together when
// the context is cancelled.
type Janitor struct {
	limiter  *ratelimit.Limiter
	sessions *session.Store
	tokens   *token.Service
	archive  *audit.ClickHouseSink
	cfg      *config.Config
	logger   *zap.Logger
}

const archiveFlushInterval = time.Minute

func New(
	limiter *ratelimit.Limiter,
	sessions *session.Store,
	tokens *token.Service,
	archive *audit.ClickHouseSink,
	cfg *config.Config,
	logger *zap.Logger,
) *Janitor {
	return &Janitor{
		limiter:  limiter,
		sessions: sessions,
		tokens:   tokens,
		archive:  archive,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return j.loop(ctx, j.cfg.RateLimit.SweepInterval, j.sweepRateLimits)
	})
	g.Go(func() error {
		return j.loop(ctx, j.cfg.Session.SweepInterval, j.sweepSessions)
	})
	g.Go(func() error {
		return j.loop(ctx, j.cfg.Session.SweepInterval, j.pruneBlacklist)
	})
	if j.archive != nil {
		g.Go(func() error {
			return j.loop(ctx, archiveFlushInterval, j.flushArchive)
		})
	}

	return g.Wait()
}

func (j *Janitor) loop(ctx context.Context, interval time.Duration, task func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			task(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *Janitor) sweepRateLimits(ctx context.Context) {
	removed, err := j.limiter.Sweep(ctx)
	if err != nil {
		j.logger.Warn("rate limit sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Debug("rate limit entries swept", zap.Int("removed", removed))
	}
}

func (j *Janitor) sweepSessions(ctx context.Context) {
	if _, err := j.sessions.SweepExpired(ctx); err != nil {
		j.logger.Warn("session sweep failed", zap.Error(err))
	}
}

func (j *Janitor) pruneBlacklist(_ context.Context) {
	j.tokens.PruneBlacklist()
}

func (j *Janitor) flushArchive(ctx context.Context) {
	if err := j.archive.Flush(ctx); err != nil {
		j.logger.Warn("audit archive flush failed", zap.Error(err))
	}
}
