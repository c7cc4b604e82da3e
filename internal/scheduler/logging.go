package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	obslogger "github.com/smallbiznis/meterly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	mu             sync.Mutex
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) counts() (processed, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processedCount, r.errorCount
}

type jobRunKey struct{}

func (s *Scheduler) startJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     ulid.Make().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obslogger.WithRunID(ctx, run.runID)
	return ctx, run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	processed, errs := run.counts()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", processed),
		zap.Int("error_count", errs),
	}
	log := s.logger(ctx)
	if errs > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logItemError(ctx context.Context, msg, job string, subscriptionID snowflake.ID, err error) {
	if run := jobRunFromContext(ctx); run != nil {
		run.IncError()
	}
	s.logger(ctx).Error(msg,
		zap.String("job", job),
		zap.String("subscription_id", subscriptionID.String()),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
