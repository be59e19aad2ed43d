package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusQueued, StatusProcessing, StatusDone, StatusError:
		return Status(s), true
	}
	return "", false
}

const (
	SourceWebhook = "webhook"
	SourceCLI     = "cli"
	SourceRequeue = "requeue"
)

// Job is one "classify this item's attachments" unit. Rows are never deleted.
type Job struct {
	ID           string          `gorm:"primaryKey;type:text" json:"id"`
	SourceItemID int64           `gorm:"index;not null" json:"source_item_id"`
	SourceAppID  *int64          `json:"source_app_id,omitempty"`
	Status       Status          `gorm:"type:text;not null;default:'queued'" json:"status"`
	Source       string          `gorm:"type:text;not null;default:'webhook'" json:"source"`
	Payload      json.RawMessage `gorm:"type:text" json:"payload,omitempty"`
	Error        *string         `gorm:"type:text" json:"error,omitempty"`

	LockedBy   *string    `gorm:"type:text" json:"locked_by,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j *Job) BeforeCreate(_ *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Source == "" {
		j.Source = SourceWebhook
	}
	if len(j.Payload) == 0 {
		j.Payload = json.RawMessage(`{}`)
	}
	return nil
}

// FileRecord is written once per staged attachment and never updated.
type FileRecord struct {
	ID           string    `gorm:"primaryKey;type:text" json:"id"`
	JobID        string    `gorm:"type:text;index;not null" json:"job_id"`
	SourceFileID int64     `gorm:"not null" json:"source_file_id"`
	Name         string    `gorm:"type:text;not null" json:"name"`
	Mime         string    `gorm:"type:text;not null" json:"mime"`
	StoragePath  string    `gorm:"type:text;not null" json:"storage_path"`
	PublicURL    string    `gorm:"type:text" json:"public_url,omitempty"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (FileRecord) TableName() string { return "files" }

func (f *FileRecord) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

const (
	OutcomeClassified    = "classified"
	OutcomeNoUsableInput = "no_usable_input"
)

// Result holds the classifier output for a job. One row per job.
type Result struct {
	ID             string          `gorm:"primaryKey;type:text" json:"id"`
	JobID          string          `gorm:"type:text;uniqueIndex;not null" json:"job_id"`
	ModelVersion   string          `gorm:"type:text" json:"model_version"`
	Outcome        string          `gorm:"type:text;not null" json:"outcome"`
	RawJSON        json.RawMessage `gorm:"column:raw_json;type:text" json:"raw_json"`
	WritebackError *string         `gorm:"type:text" json:"writeback_error,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (r *Result) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
