package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tariffsync/internal/logger"
	"tariffsync/internal/metrics"
)

// Handler runs the pipeline for one claimed job. A non-nil error moves the
// job to error; partial artifacts written before the error are kept.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

type Worker struct {
	ID      string
	Repo    *Repo
	Handler Handler

	Poll  time.Duration
	Lease time.Duration
	// Wake, when set, triggers an immediate claim in addition to polling.
	Wake <-chan struct{}
}

func (w *Worker) poll() time.Duration {
	if w.Poll <= 0 {
		return 800 * time.Millisecond
	}
	return w.Poll
}

func (w *Worker) lease() time.Duration {
	if w.Lease <= 0 {
		return 5 * time.Minute
	}
	return w.Lease
}

// Run claims and processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll())
	defer ticker.Stop()

	logger.WithFields(logger.Fields{"worker": w.ID}).Info("worker started")
	for {
		select {
		case <-ctx.Done():
			logger.WithFields(logger.Fields{"worker": w.ID}).Info("worker stopping")
			return
		case <-ticker.C:
		case <-w.Wake:
		}
		// drain everything queued before waiting again
		for ctx.Err() == nil {
			job, err := w.RunOnce(ctx)
			if err != nil {
				logger.WithError(err).WithField("worker", w.ID).Error("worker iteration failed")
				break
			}
			if job == nil {
				break
			}
		}
	}
}

// RunOnce reaps expired leases, claims at most one job and processes it.
// It returns the job in its final state, or nil when nothing was queued.
func (w *Worker) RunOnce(ctx context.Context) (*Job, error) {
	if n, err := w.Repo.ReapExpired(ctx); err != nil {
		logger.WithError(err).Warn("jobs.reap failed")
	} else if n > 0 {
		metrics.JobsReaped.Add(float64(n))
		metrics.JobsFinished.WithLabelValues(string(StatusError)).Add(float64(n))
		logger.WithFields(logger.Fields{"count": n}).Warn("jobs.reap lease expired")
	}

	job, err := w.Repo.Claim(ctx, w.ID, w.lease())
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	return w.Process(ctx, job)
}

// Process drives an already claimed job to done or error.
func (w *Worker) Process(ctx context.Context, job *Job) (*Job, error) {
	log := logger.WithFields(logger.Fields{"worker": w.ID, "job_id": job.ID, "item_id": job.SourceItemID})
	log.Info("job.claimed")
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job.ID)

	herr := w.safeHandle(ctx, job)
	stopHeartbeat()

	var ferr error
	if herr != nil {
		log.WithError(herr).Error("job.error")
		ferr = w.Repo.MarkError(context.WithoutCancel(ctx), job.ID, herr.Error())
	} else {
		ferr = w.Repo.MarkDone(context.WithoutCancel(ctx), job.ID)
	}
	if errors.Is(ferr, ErrNotProcessing) {
		// the lease lapsed and the reaper already finished this job
		log.Warn("job.finish skipped: no longer processing")
	} else if ferr != nil {
		return nil, ferr
	} else {
		status := StatusDone
		if herr != nil {
			status = StatusError
		}
		metrics.JobsFinished.WithLabelValues(string(status)).Inc()
		log.WithFields(logger.Fields{"status": status, "elapsed_ms": time.Since(start).Milliseconds()}).Info("job.finished")
	}
	return w.Repo.Get(context.WithoutCancel(ctx), job.ID)
}

func (w *Worker) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if w.Handler == nil {
		return errors.New("no handler configured")
	}
	return w.Handler.Handle(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, id string) {
	interval := w.lease() / 3
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.Repo.Heartbeat(ctx, id, w.ID, w.lease()); err != nil {
				if ctx.Err() == nil {
					logger.WithError(err).WithField("job_id", id).Warn("job.heartbeat failed")
				}
				if errors.Is(err, ErrNotProcessing) {
					return
				}
			}
		}
	}
}
