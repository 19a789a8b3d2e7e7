package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/humanreel/backend/internal/logging"
	"github.com/humanreel/backend/internal/metrics"
)

// Normalizer converts a raw upload into the canonical media file.
type Normalizer interface {
	Normalize(ctx context.Context, src, dst string) error
}

// MediaStatusUpdater records the transcode outcome on the video row.
type MediaStatusUpdater interface {
	MarkMediaReady(ctx context.Context, videoID string, size int64, at time.Time) error
	MarkMediaFailed(ctx context.Context, videoID, reason string, at time.Time) error
}

// Job asks the pool to normalize one raw upload.
type Job struct {
	VideoID string
	RawPath string
}

// PoolConfig controls the concurrency characteristics of the transcode pool.
type PoolConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// ProcessingLister reports videos whose transcode outcome was never recorded.
type ProcessingLister interface {
	ListProcessing(ctx context.Context) ([]string, error)
}

// TranscodePool normalizes uploads in the background and posts each outcome
// back onto the video row. Every accepted job ends in MarkMediaReady or
// MarkMediaFailed, including jobs still queued at Shutdown.
type TranscodePool struct {
	normalizer Normalizer
	staging    *Staging
	updater    MediaStatusUpdater
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var (
	// ErrPoolClosed is returned when a job is enqueued after Shutdown.
	ErrPoolClosed = errors.New("transcode pool closed")

	errShutdown = errors.New("transcode interrupted by shutdown")
)

// NewTranscodePool starts the worker pool.
func NewTranscodePool(normalizer Normalizer, staging *Staging, updater MediaStatusUpdater, cfg PoolConfig, logger *slog.Logger) *TranscodePool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &TranscodePool{
		normalizer: normalizer,
		staging:    staging,
		updater:    updater,
		timeout:    cfg.Timeout,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		jobs:       make(chan Job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

// Enqueue schedules a transcode job.
func (p *TranscodePool) Enqueue(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	case p.jobs <- job:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for the workers. The job in flight
// on each worker runs to completion; jobs still queued are marked failed.
func (p *TranscodePool) Shutdown(ctx context.Context) error {
	// Cancel first so an Enqueue blocked on a full queue lets go of the lock.
	p.cancel()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Resume settles videos left in processing by a previous process. A video
// whose canonical file exists is marked ready, one whose raw upload survived
// is queued again, and the rest are marked failed.
func (p *TranscodePool) Resume(ctx context.Context, videos ProcessingLister) error {
	ids, err := videos.ListProcessing(ctx)
	if err != nil {
		return fmt.Errorf("list processing videos: %w", err)
	}

	for _, id := range ids {
		logger := p.logger.With(slog.String("videoId", id))

		if canonical, err := p.staging.CanonicalPath(id); err == nil {
			if info, err := os.Stat(canonical); err == nil {
				if raw, err := p.staging.IncomingPath(id); err == nil {
					_ = p.staging.RemoveRaw(raw)
				}
				if err := p.recordSuccess(id, info.Size()); err != nil {
					logger.Error("mark media ready", slog.String("error", err.Error()))
				}
				continue
			}
		}

		raw, err := p.staging.IncomingPath(id)
		if err != nil {
			logger.Warn("raw upload missing for unfinished transcode", slog.String("error", err.Error()))
			p.recordFailure(id, "raw upload missing after restart")
			continue
		}

		if err := p.Enqueue(ctx, Job{VideoID: id, RawPath: raw}); err != nil {
			if errors.Is(err, ErrPoolClosed) {
				p.abandon(Job{VideoID: id, RawPath: raw})
				continue
			}
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		logger.Info("requeued unfinished transcode")
	}
	return nil
}

func (p *TranscodePool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			for job := range p.jobs {
				p.abandon(job)
			}
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				p.abandon(job)
				continue
			}
			p.handleJob(job)
		}
	}
}

func (p *TranscodePool) abandon(job Job) {
	ctx := logging.WithLogger(context.Background(), p.logger.With(slog.String("videoId", job.VideoID)))
	p.fail(ctx, job, errShutdown)
}

func (p *TranscodePool) handleJob(job Job) {
	ctx := logging.WithLogger(context.Background(), p.logger.With(slog.String("videoId", job.VideoID)))
	ctx, span := logging.StartSpan(ctx, "intake.transcode")
	logger := logging.FromContext(ctx)

	dst, err := p.staging.CanonicalPath(job.VideoID)
	if err != nil {
		span.End(err)
		p.fail(ctx, job, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err = p.normalizer.Normalize(runCtx, job.RawPath, dst)
	cancel()
	if err != nil {
		span.End(err)
		p.fail(ctx, job, err)
		return
	}

	// Transcoded sources leave the raw upload behind.
	if err := p.staging.RemoveRaw(job.RawPath); err != nil {
		logger.Warn("remove raw upload", slog.String("error", err.Error()))
	}

	info, err := os.Stat(dst)
	if err != nil {
		span.End(err)
		p.fail(ctx, job, err)
		return
	}

	if err := p.recordSuccess(job.VideoID, info.Size()); err != nil {
		logger.Error("mark media ready", slog.String("error", err.Error()))
		metrics.RecordTranscode(metrics.OutcomeFailure)
		span.End(err)
		return
	}

	metrics.RecordTranscode(metrics.OutcomeSuccess)
	span.End(nil)
}

func (p *TranscodePool) fail(ctx context.Context, job Job, cause error) {
	logger := logging.FromContext(ctx)
	logger.Error("transcode failed", slog.String("error", cause.Error()))
	metrics.RecordTranscode(metrics.OutcomeFailure)

	if err := p.staging.RemoveRaw(job.RawPath); err != nil {
		logger.Warn("remove raw upload", slog.String("error", err.Error()))
	}
	if err := p.staging.Remove(job.VideoID); err != nil && !errors.Is(err, ErrInvalidVideoID) {
		logger.Warn("remove partial canonical media", slog.String("error", err.Error()))
	}

	p.recordFailure(job.VideoID, cause.Error())
}

func (p *TranscodePool) recordSuccess(videoID string, size int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return p.updater.MarkMediaReady(ctx, videoID, size, p.now())
}

func (p *TranscodePool) recordFailure(videoID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.updater.MarkMediaFailed(ctx, videoID, reason, p.now()); err != nil {
		p.logger.Error("record transcode failure", slog.String("videoId", videoID), slog.String("error", err.Error()))
	}
}
