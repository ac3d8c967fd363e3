// Package cronrunner schedules periodic maintenance jobs such as the health
// report.
package cronrunner

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under spec. Both six-field expressions and descriptors
// like "@every 10m" are accepted.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", rec))
			}
		}()
		job(r.baseCtx)
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("cron job registered", zap.String("job", name), zap.String("spec", spec))
	return id, nil
}

func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("cron stopped")
}
