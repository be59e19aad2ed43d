package jobs

import (
	"encoding/json"
	"sync"
	"time"
)

type RepoTestSuite struct {
	JobsTestSuite
}

func (s *RepoTestSuite) TestEnqueueDefaults() {
	j := &Job{SourceItemID: 123}
	s.Require().NoError(s.repo.Enqueue(s.ctx, j))

	s.NotEmpty(j.ID)
	got, err := s.repo.Get(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal(StatusQueued, got.Status)
	s.Equal(SourceWebhook, got.Source)
	s.JSONEq(`{}`, string(got.Payload))
	s.Nil(got.Error)
}

func (s *RepoTestSuite) TestGetNotFound() {
	_, err := s.repo.Get(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepoTestSuite) TestClaimOldestFirst() {
	first := s.enqueue(1)
	s.enqueue(2)

	got, err := s.repo.Claim(s.ctx, "w1", time.Minute)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(first.ID, got.ID)
	s.Equal(StatusProcessing, got.Status)
	s.Require().NotNil(got.LockedBy)
	s.Equal("w1", *got.LockedBy)
	s.Require().NotNil(got.LeaseUntil)
	s.True(got.LeaseUntil.After(time.Now()))
	s.Equal(1, got.Attempts)
}

func (s *RepoTestSuite) TestClaimEmpty() {
	got, err := s.repo.Claim(s.ctx, "w1", time.Minute)
	s.NoError(err)
	s.Nil(got)
}

func (s *RepoTestSuite) TestClaimIDSkipsOlderJobs() {
	s.enqueue(1)
	second := s.enqueue(2)

	got, err := s.repo.ClaimID(s.ctx, second.ID, "cli", time.Minute)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)
	s.Equal(StatusProcessing, got.Status)

	_, err = s.repo.ClaimID(s.ctx, second.ID, "cli", time.Minute)
	s.ErrorIs(err, ErrNotQueued)
	_, err = s.repo.ClaimID(s.ctx, "missing", "cli", time.Minute)
	s.ErrorIs(err, ErrNotFound)
}

func (s *RepoTestSuite) TestConcurrentClaimsNeverShareAJob() {
	const n = 5
	for i := 0; i < n; i++ {
		s.enqueue(int64(i + 1))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				j, err := s.repo.Claim(s.ctx, "w", time.Minute)
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	s.Len(claimed, n)
	for id, c := range claimed {
		s.Equal(1, c, "job %s claimed more than once", id)
	}
}

func (s *RepoTestSuite) TestStatusIsMonotonic() {
	j := s.enqueue(7)

	// cannot finish a job that was never claimed
	s.ErrorIs(s.repo.MarkDone(s.ctx, j.ID), ErrNotProcessing)

	_, err := s.repo.Claim(s.ctx, "w1", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkDone(s.ctx, j.ID))

	// no transition out of done
	s.ErrorIs(s.repo.MarkError(s.ctx, j.ID, "late failure"), ErrNotProcessing)
	s.ErrorIs(s.repo.MarkDone(s.ctx, j.ID), ErrNotProcessing)

	got, err := s.repo.Get(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal(StatusDone, got.Status)
	s.Nil(got.Error)
	s.NotNil(got.FinishedAt)

	// and a done job is never claimed again
	again, err := s.repo.Claim(s.ctx, "w2", time.Minute)
	s.NoError(err)
	s.Nil(again)
}

func (s *RepoTestSuite) TestMarkErrorKeepsMessage() {
	j := s.enqueue(8)
	_, err := s.repo.Claim(s.ctx, "w1", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkError(s.ctx, j.ID, "podio: 401"))

	got, err := s.repo.Get(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal(StatusError, got.Status)
	s.Require().NotNil(got.Error)
	s.Equal("podio: 401", *got.Error)
}

func (s *RepoTestSuite) TestReapOnlyExpiredLeases() {
	expired := s.enqueue(1)
	live := s.enqueue(2)

	_, err := s.repo.Claim(s.ctx, "w1", -time.Second)
	s.Require().NoError(err)
	_, err = s.repo.Claim(s.ctx, "w2", time.Hour)
	s.Require().NoError(err)

	n, err := s.repo.ReapExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	got, err := s.repo.Get(s.ctx, expired.ID)
	s.Require().NoError(err)
	s.Equal(StatusError, got.Status)
	s.Equal("lease expired", *got.Error)

	got, err = s.repo.Get(s.ctx, live.ID)
	s.Require().NoError(err)
	s.Equal(StatusProcessing, got.Status)
}

func (s *RepoTestSuite) TestHeartbeatExtendsLease() {
	j := s.enqueue(3)
	claimed, err := s.repo.Claim(s.ctx, "w1", time.Second)
	s.Require().NoError(err)
	before := *claimed.LeaseUntil

	s.Require().NoError(s.repo.Heartbeat(s.ctx, j.ID, "w1", time.Hour))
	got, err := s.repo.Get(s.ctx, j.ID)
	s.Require().NoError(err)
	s.True(got.LeaseUntil.After(before))

	// another worker cannot extend it
	s.ErrorIs(s.repo.Heartbeat(s.ctx, j.ID, "w2", time.Hour), ErrNotProcessing)
}

func (s *RepoTestSuite) TestRequeueCreatesNewJob() {
	j := s.enqueue(9)
	_, err := s.repo.Requeue(s.ctx, j.ID)
	s.ErrorIs(err, ErrNotTerminal)

	_, err = s.repo.Claim(s.ctx, "w1", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.repo.MarkError(s.ctx, j.ID, "boom"))

	nj, err := s.repo.Requeue(s.ctx, j.ID)
	s.Require().NoError(err)
	s.NotEqual(j.ID, nj.ID)
	s.Equal(int64(9), nj.SourceItemID)
	s.Equal(SourceRequeue, nj.Source)

	old, err := s.repo.Get(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal(StatusError, old.Status)
}

func (s *RepoTestSuite) TestUpsertResultKeyedByJob() {
	j := s.enqueue(4)

	s.Require().NoError(s.repo.UpsertResult(s.ctx, &Result{
		JobID: j.ID, ModelVersion: "m1", Outcome: OutcomeClassified,
		RawJSON: json.RawMessage(`{"fraccion":"1"}`),
	}))
	s.Require().NoError(s.repo.UpsertResult(s.ctx, &Result{
		JobID: j.ID, ModelVersion: "m2", Outcome: OutcomeClassified,
		RawJSON: json.RawMessage(`{"fraccion":"2"}`),
	}))

	var count int64
	s.Require().NoError(s.db.Model(&Result{}).Where("job_id = ?", j.ID).Count(&count).Error)
	s.Equal(int64(1), count)

	res, err := s.repo.GetResult(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal("m2", res.ModelVersion)
	s.JSONEq(`{"fraccion":"2"}`, string(res.RawJSON))

	msg := "podio 500"
	s.Require().NoError(s.repo.SetWritebackError(s.ctx, j.ID, &msg))
	res, err = s.repo.GetResult(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Equal("podio 500", *res.WritebackError)
}

func (s *RepoTestSuite) TestFilesAndList() {
	j := s.enqueue(5)
	s.Require().NoError(s.repo.SaveFile(s.ctx, &FileRecord{
		JobID: j.ID, SourceFileID: 11, Name: "a.png", Mime: "image/png",
		StoragePath: "podio/5/1_0_a.png", SizeBytes: 3,
	}))
	files, err := s.repo.Files(s.ctx, j.ID)
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	s.Equal("a.png", files[0].Name)

	s.enqueue(6)
	list, err := s.repo.List(s.ctx, ListFilter{Status: StatusQueued})
	s.Require().NoError(err)
	s.Len(list, 2)

	list, err = s.repo.List(s.ctx, ListFilter{ItemID: 6})
	s.Require().NoError(err)
	s.Len(list, 1)
}
