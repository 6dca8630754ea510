package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type runPipeline interface {
	Run(ctx context.Context, req Request) (*Summary, error)
}

// Runner executes queued ingestion jobs. The worker binary and the API's
// in-process fallback both go through Execute.
type Runner struct {
	jobs     *JobRepo
	pipeline runPipeline
	sources  *Sources
	log      *zap.Logger
}

func NewRunner(jobs *JobRepo, pipeline runPipeline, sources *Sources, log *zap.Logger) *Runner {
	if sources == nil {
		sources = DefaultSources()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{jobs: jobs, pipeline: pipeline, sources: sources, log: log}
}

// RequestFor expands a job request into a pipeline request.
func (r *Runner) RequestFor(jr JobRequest) Request {
	if len(jr.URLs) == 0 && len(jr.Sitemaps) == 0 {
		return r.sources.Request(jr.Prune)
	}
	return Request{
		URLs:     jr.URLs,
		Sitemaps: jr.Sitemaps,
		Filter:   r.sources.Filter(),
	}
}

// Execute runs one job to completion. A job that is not queued any more is
// skipped without error so redelivered messages are harmless.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	jobStart := time.Now()
	log := r.log.With(zap.String("job", jobID))

	ok, err := r.jobs.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("job not queued, skipping")
		return nil
	}

	j, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	sum, err := r.pipeline.Run(ctx, r.RequestFor(j.Request))
	if err != nil {
		// the job row must be closed even when ctx is what failed
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if mErr := r.jobs.MarkFailed(markCtx, jobID, err.Error(), sum); mErr != nil {
			log.Error("mark job failed", zap.Error(mErr))
		}
		log.Warn("job failed", zap.Duration("took", time.Since(jobStart)), zap.Error(err))
		return err
	}

	if err := r.jobs.MarkSucceeded(ctx, jobID, sum); err != nil {
		return err
	}
	log.Info("job succeeded",
		zap.Duration("took", time.Since(jobStart)),
		zap.Int("created", sum.Created),
		zap.Int("updated", sum.Updated),
		zap.Int("failed", sum.Failed),
	)
	return nil
}

// RunSources runs a full pass over the configured sources without a job row.
func (r *Runner) RunSources(ctx context.Context, prune bool) (*Summary, error) {
	return r.pipeline.Run(ctx, r.sources.Request(prune))
}

// Dispatcher hands a queued job to whoever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// LocalDispatcher runs jobs on goroutines in this process, for deployments
// without a broker. Jobs run under the dispatcher's context, not the
// request's, and stop when it is cancelled.
type LocalDispatcher struct {
	ctx    context.Context
	runner *Runner
	wg     sync.WaitGroup
}

func NewLocalDispatcher(ctx context.Context, r *Runner) *LocalDispatcher {
	return &LocalDispatcher{ctx: ctx, runner: r}
}

func (d *LocalDispatcher) Dispatch(_ context.Context, jobID string) error {
	if err := d.ctx.Err(); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.runner.Execute(d.ctx, jobID) // outcome is recorded on the job row
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *LocalDispatcher) Wait() { d.wg.Wait() }
