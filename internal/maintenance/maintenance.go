// Package maintenance repairs the drift between the catalog and the search
// index on a schedule.
package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Index is the repair surface of the search index.
type Index interface {
	ReindexUnindexed(ctx context.Context) (int, error)
	PruneOrphans(ctx context.Context) (int, error)
}

// Report is the outcome of one maintenance pass.
type Report struct {
	Reindexed int           `json:"reindexed"`
	Pruned    int           `json:"pruned"`
	Elapsed   time.Duration `json:"elapsed"`
}

// PassHook is called after every pass with its report and error.
type PassHook func(ctx context.Context, rep Report, err error)

// Option configures a Daemon.
type Option func(*Daemon)

// WithAfterPass registers hooks run after each pass.
func WithAfterPass(hooks ...PassHook) Option {
	return func(d *Daemon) { d.hooks = append(d.hooks, hooks...) }
}

// Daemon runs maintenance passes.
type Daemon struct {
	index   Index
	timeout time.Duration
	hooks   []PassHook
	log     *zap.Logger
}

// New creates a Daemon. Each scheduled pass is bounded by timeout; zero
// means no bound.
func New(index Index, timeout time.Duration, opts ...Option) *Daemon {
	d := &Daemon{
		index:   index,
		timeout: timeout,
		log:     zap.L().With(zap.String("component", "maintenance")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RunOnce pushes unindexed bindings, then deletes orphan documents. Pruning
// runs even when reindexing failed. Hooks run after the pass and are not
// bound by ctx's deadline.
func (d *Daemon) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	n, reindexErr := d.index.ReindexUnindexed(ctx)
	rep.Reindexed = n
	if reindexErr != nil {
		reindexErr = eris.Wrap(reindexErr, "maintenance: reindex")
	}

	n, pruneErr := d.index.PruneOrphans(ctx)
	rep.Pruned = n
	if pruneErr != nil {
		pruneErr = eris.Wrap(pruneErr, "maintenance: prune")
	}

	rep.Elapsed = time.Since(start)
	err := errors.Join(reindexErr, pruneErr)

	for _, h := range d.hooks {
		h(context.WithoutCancel(ctx), rep, err)
	}
	return rep, err
}

// Run executes a pass on every tick of schedule (standard cron syntax or
// descriptors such as "@every 1h") until ctx is done. A tick that fires while
// the previous pass is still running is skipped.
func (d *Daemon) Run(ctx context.Context, schedule string) error {
	logger := cronLogger{d.log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	if _, err := c.AddFunc(schedule, func() { d.tick(ctx) }); err != nil {
		return eris.Wrapf(err, "maintenance: schedule %q", schedule)
	}

	c.Start()
	d.log.Info("maintenance scheduled", zap.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	d.log.Info("maintenance stopped")
	return nil
}

func (d *Daemon) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	rep, err := d.RunOnce(ctx)
	fields := []zap.Field{
		zap.Int("reindexed", rep.Reindexed),
		zap.Int("pruned", rep.Pruned),
		zap.Duration("elapsed", rep.Elapsed),
	}
	if err != nil {
		d.log.Error("maintenance pass failed", append(fields, zap.Error(err))...)
		return
	}
	d.log.Info("maintenance pass finished", fields...)
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
