package ingest

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/suPer8Hu/govchat/internal/common"
	"go.uber.org/zap"
)

// Scheduler re-crawls the configured sources on a cron spec. A run that is
// still going when the next tick fires makes that tick a no-op.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	log    *zap.Logger
}

type zapCronLogger struct{ log *zap.Logger }

func (l zapCronLogger) Info(msg string, kv ...any) {
	l.log.Sugar().Debugw("cron: "+msg, kv...)
}

func (l zapCronLogger) Error(err error, msg string, kv ...any) {
	l.log.Sugar().Errorw("cron: "+msg, append(kv, "error", err)...)
}

func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := zapCronLogger{log: log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, parser: parser, log: log}
}

// Add schedules fn on spec. fn receives ctx, which is cancelled by Stop.
func (s *Scheduler) Add(ctx context.Context, spec string, fn func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return common.Configuration("schedule", fmt.Errorf("bad cron spec %q: %w", spec, err))
	}
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		s.log.Info("scheduled ingestion starting", zap.String("spec", spec))
		if err := fn(ctx); err != nil {
			s.log.Error("scheduled ingestion failed", zap.Error(err))
		}
	})
	return err
}

// ScheduleSources runs a full pass over r's sources on spec.
func (s *Scheduler) ScheduleSources(ctx context.Context, spec string, r *Runner, prune bool) error {
	return s.Add(ctx, spec, func(ctx context.Context) error {
		_, err := r.RunSources(ctx, prune)
		return err
	})
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and returns a context that is done once the running
// one has returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
