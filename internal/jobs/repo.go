package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tariffsync/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotifyChannel is the Postgres channel used to wake listening workers.
const NotifyChannel = "tariffsync_jobs"

var (
	ErrNotFound      = errors.New("job not found")
	ErrNotProcessing = errors.New("job is not processing")
	ErrNotTerminal   = errors.New("job is not in a terminal status")
	ErrNotQueued     = errors.New("job is not queued")
)

type Repo struct {
	DB *gorm.DB
}

func (r *Repo) postgres() bool {
	return r.DB.Dialector.Name() == "postgres"
}

// Enqueue inserts a queued job.
func (r *Repo) Enqueue(ctx context.Context, j *Job) error {
	j.Status = StatusQueued
	if err := r.DB.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	if r.postgres() {
		if err := r.DB.WithContext(ctx).Exec(`select pg_notify(?, ?)`, NotifyChannel, j.ID).Error; err != nil {
			logger.WithError(err).Warn("jobs.notify failed")
		}
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

type ListFilter struct {
	Status Status
	ItemID int64
	Limit  int
}

// List returns jobs newest first.
func (r *Repo) List(ctx context.Context, f ListFilter) ([]Job, error) {
	q := r.DB.WithContext(ctx).Model(&Job{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ItemID != 0 {
		q = q.Where("source_item_id = ?", f.ItemID)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	var out []Job
	if err := q.Order("created_at desc").Limit(f.Limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return out, nil
}

func (r *Repo) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	type row struct {
		Status Status
		N      int64
	}
	var rows []row
	err := r.DB.WithContext(ctx).Model(&Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	out := map[Status]int64{StatusQueued: 0, StatusProcessing: 0, StatusDone: 0, StatusError: 0}
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

// Claim moves the oldest queued job to processing and returns it, or nil when
// nothing is queued. The transition only succeeds if the row is still queued.
func (r *Repo) Claim(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	if r.postgres() {
		return r.claimSkipLocked(ctx, workerID, lease)
	}
	return r.claimConditional(ctx, workerID, lease)
}

func (r *Repo) claimSkipLocked(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	var job Job
	now := time.Now()
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// rows locked by another claimer are skipped, not waited on
		q := tx.Raw(`
with cte as (
  select id
  from jobs
  where status = 'queued'
  order by created_at asc, id asc
  for update skip locked
  limit 1
)
update jobs
set status = 'processing', locked_by = ?, lease_until = ?, attempts = attempts + 1, updated_at = ?
where id in (select id from cte)
returning *;
`, workerID, now.Add(lease), now)
		return q.Scan(&job).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

const maxClaimRaces = 3

func (r *Repo) claimConditional(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	db := r.DB.WithContext(ctx)
	for i := 0; i < maxClaimRaces; i++ {
		var candidate Job
		err := db.Select("id").
			Where("status = ?", StatusQueued).
			Order("created_at asc, id asc").
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select job: %w", err)
		}

		now := time.Now()
		res := db.Model(&Job{}).
			Where("id = ? AND status = ?", candidate.ID, StatusQueued).
			Updates(map[string]any{
				"status":      StatusProcessing,
				"locked_by":   workerID,
				"lease_until": now.Add(lease),
				"attempts":    gorm.Expr("attempts + 1"),
				"updated_at":  now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return r.Get(ctx, candidate.ID)
		}
		// another worker won the row; try the next one
	}
	return nil, nil
}

// ClaimID claims one specific queued job. It returns ErrNotFound when the job
// does not exist and ErrNotQueued when it has already left the queue.
func (r *Repo) ClaimID(ctx context.Context, id, workerID string, lease time.Duration) (*Job, error) {
	now := time.Now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"status":      StatusProcessing,
			"locked_by":   workerID,
			"lease_until": now.Add(lease),
			"attempts":    gorm.Expr("attempts + 1"),
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotQueued
	}
	return r.Get(ctx, id)
}

// Heartbeat extends the lease of a job this worker still holds.
func (r *Repo) Heartbeat(ctx context.Context, id, workerID string, lease time.Duration) error {
	now := time.Now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, StatusProcessing, workerID).
		Updates(map[string]any{"lease_until": now.Add(lease), "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to extend lease: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (r *Repo) MarkDone(ctx context.Context, id string) error {
	return r.finish(ctx, id, StatusDone, nil)
}

func (r *Repo) MarkError(ctx context.Context, id string, msg string) error {
	return r.finish(ctx, id, StatusError, &msg)
}

func (r *Repo) finish(ctx context.Context, id string, status Status, msg *string) error {
	now := time.Now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":      status,
			"error":       msg,
			"lease_until": nil,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotProcessing
	}
	return nil
}

// ReapExpired moves processing jobs whose lease has lapsed to error.
// Jobs with a live lease are untouched.
func (r *Repo) ReapExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND lease_until IS NOT NULL AND lease_until < ?", StatusProcessing, now).
		Updates(map[string]any{
			"status":      StatusError,
			"error":       "lease expired",
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reap expired jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Requeue admits a fresh job for the same item as a terminal job.
// The original row keeps its status.
func (r *Repo) Requeue(ctx context.Context, id string) (*Job, error) {
	old, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.Status.Terminal() {
		return nil, ErrNotTerminal
	}
	j := &Job{
		SourceItemID: old.SourceItemID,
		SourceAppID:  old.SourceAppID,
		Source:       SourceRequeue,
		Payload:      old.Payload,
	}
	if err := r.Enqueue(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *Repo) SaveFile(ctx context.Context, f *FileRecord) error {
	if err := r.DB.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}
	return nil
}

func (r *Repo) Files(ctx context.Context, jobID string) ([]FileRecord, error) {
	var out []FileRecord
	if err := r.DB.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return out, nil
}

// UpsertResult stores the result for res.JobID, replacing any earlier one.
func (r *Repo) UpsertResult(ctx context.Context, res *Result) error {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"model_version", "outcome", "raw_json", "writeback_error", "updated_at"}),
	}).Create(res).Error
	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}
	return nil
}

func (r *Repo) SetWritebackError(ctx context.Context, jobID string, msg *string) error {
	return r.DB.WithContext(ctx).Model(&Result{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{"writeback_error": msg, "updated_at": time.Now()}).Error
}

func (r *Repo) GetResult(ctx context.Context, jobID string) (*Result, error) {
	var res Result
	err := r.DB.WithContext(ctx).Where("job_id = ?", jobID).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return &res, nil
}
