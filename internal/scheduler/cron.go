package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Runner fires the sweep on a recurring schedule expression. Every
// replica runs its own timer; coordination happens per task through
// the lock manager, not here.
type Runner struct {
	logger  *zap.Logger
	sweeper *Sweeper
	cron    *cron.Cron
	entry   cron.EntryID
}

// NewRunner wires the sweeper to a cron expression.
func NewRunner(sweeper *Sweeper, expression string, logger *zap.Logger) (*Runner, error) {
	cl := &cronLogger{logger: logger.Named("cron")}
	c := cron.New(cron.WithChain(cron.Recover(cl)))

	r := &Runner{
		logger:  logger,
		sweeper: sweeper,
		cron:    c,
	}

	entry, err := c.AddFunc(expression, r.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	r.entry = entry

	return r, nil
}

// Start starts the schedule
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("Sweep schedule started",
		zap.Time("next_run", r.cron.Entry(r.entry).Next))
}

// Stop stops the schedule and waits for a running sweep to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Sweep schedule stopped")
}

func (r *Runner) tick() {
	if err := r.sweeper.Sweep(context.Background()); err != nil {
		r.logger.Error("Sweep completed with errors", zap.Error(err))
	}
}
