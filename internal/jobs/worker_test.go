package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

type WorkerTestSuite struct {
	JobsTestSuite
}

func (s *WorkerTestSuite) worker(h Handler) *Worker {
	return &Worker{ID: "test-worker", Repo: s.repo, Handler: h, Lease: time.Minute}
}

func (s *WorkerTestSuite) TestRunOnceNothingQueued() {
	w := s.worker(HandlerFunc(func(context.Context, *Job) error {
		s.Fail("handler must not run")
		return nil
	}))
	job, err := w.RunOnce(s.ctx)
	s.NoError(err)
	s.Nil(job)
}

func (s *WorkerTestSuite) TestRunOnceSuccess() {
	j := s.enqueue(123)
	var seen Status
	w := s.worker(HandlerFunc(func(ctx context.Context, job *Job) error {
		cur, err := s.repo.Get(ctx, job.ID)
		s.Require().NoError(err)
		seen = cur.Status
		return nil
	}))

	got, err := w.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(j.ID, got.ID)
	s.Equal(StatusProcessing, seen, "claim happens before any work")
	s.Equal(StatusDone, got.Status)
}

func (s *WorkerTestSuite) TestRunOnceFailureKeepsArtifacts() {
	j := s.enqueue(5)
	w := s.worker(HandlerFunc(func(ctx context.Context, job *Job) error {
		s.Require().NoError(s.repo.SaveFile(ctx, &FileRecord{
			JobID: job.ID, SourceFileID: 1, Name: "a.pdf", Mime: "application/pdf",
			StoragePath: "podio/5/x_0_a.pdf", SizeBytes: 10,
		}))
		return errors.New("classifier unreachable")
	}))

	got, err := w.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(StatusError, got.Status)
	s.Require().NotNil(got.Error)
	s.Equal("classifier unreachable", *got.Error)

	files, err := s.repo.Files(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Len(files, 1)
}

func (s *WorkerTestSuite) TestPanicBecomesError() {
	s.enqueue(6)
	w := s.worker(HandlerFunc(func(context.Context, *Job) error {
		panic("nil map")
	}))
	got, err := w.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(StatusError, got.Status)
	s.Contains(*got.Error, "panic")
}

func (s *WorkerTestSuite) TestOneJobPerInvocation() {
	s.enqueue(1)
	s.enqueue(2)
	var calls int32
	w := s.worker(HandlerFunc(func(context.Context, *Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	_, err := w.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(int32(1), atomic.LoadInt32(&calls))

	counts, err := s.repo.CountByStatus(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), counts[StatusQueued])
	s.Equal(int64(1), counts[StatusDone])
}

func (s *WorkerTestSuite) TestRunOnceReapsExpiredLease() {
	stale := s.enqueue(1)
	_, err := s.repo.Claim(s.ctx, "dead-worker", -time.Second)
	s.Require().NoError(err)

	w := s.worker(HandlerFunc(func(context.Context, *Job) error { return nil }))
	job, err := w.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Nil(job)

	got, err := s.repo.Get(s.ctx, stale.ID)
	s.Require().NoError(err)
	s.Equal(StatusError, got.Status)
}

func (s *WorkerTestSuite) TestRunDrainsQueueUntilCancelled() {
	for i := 0; i < 3; i++ {
		s.enqueue(int64(i + 1))
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var calls int32
	w := s.worker(HandlerFunc(func(context.Context, *Job) error {
		if atomic.AddInt32(&calls, 1) == 3 {
			cancel()
		}
		return nil
	}))
	w.Poll = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.FailNow("worker did not stop")
	}
	s.Equal(int32(3), atomic.LoadInt32(&calls))

	counts, err := s.repo.CountByStatus(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), counts[StatusDone])
}
