// Package processor runs one claimed job through fetch, documents,
// classification and writeback.
package processor

import (
	"context"
	"fmt"
	"time"

	"tariffsync/internal/classifier"
	"tariffsync/internal/documents"
	"tariffsync/internal/fields"
	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"
	"tariffsync/internal/podio"
	"tariffsync/internal/writeback"
)

// Podio is the record store as seen by the processor.
type Podio interface {
	documents.Source
	writeback.Target
	GetItem(ctx context.Context, itemID int64) (*podio.Item, error)
	GetAppFields(ctx context.Context, appID int64) ([]podio.AppField, error)
}

type Processor struct {
	Podio      Podio
	Repo       *jobs.Repo
	Documents  *documents.Pipeline
	Classifier *classifier.Orchestrator
	Writer     *writeback.Writer
	// DefaultAppID is used when neither the job nor the item names an app.
	DefaultAppID int64
}

var _ jobs.Handler = (*Processor)(nil)

// Handle implements jobs.Handler. Transport and classifier failures are
// returned and fail the job; per-file problems and writeback failures are
// not.
func (p *Processor) Handle(ctx context.Context, job *jobs.Job) error {
	log := logger.WithFields(logger.Fields{"job_id": job.ID, "item_id": job.SourceItemID})

	item, err := p.Podio.GetItem(ctx, job.SourceItemID)
	if err != nil {
		return fmt.Errorf("fetch item: %w", err)
	}

	fieldMap, err := p.resolveFields(ctx, job, item)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{"files": len(item.Files), "resolved_fields": len(fieldMap)}).Info("job.item loaded")

	out, err := p.Documents.Run(ctx, item.ItemID, item.Files)
	if err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	for _, s := range out.Staged {
		rec := &jobs.FileRecord{
			JobID:        job.ID,
			SourceFileID: s.File.FileID,
			Name:         s.File.Name,
			Mime:         s.ContentType,
			StoragePath:  s.Key,
			PublicURL:    s.URL,
			SizeBytes:    s.Size,
		}
		if err := p.Repo.SaveFile(ctx, rec); err != nil {
			return err
		}
	}

	log.WithFields(documentStats(out)).Info("job.documents ready")

	if !out.HasInput() {
		return p.noUsableInput(ctx, job, out)
	}
	cls, err := p.Classifier.Classify(ctx, out.Texts, out.Images)
	if err != nil {
		return err
	}
	if cls.Skipped {
		return p.noUsableInput(ctx, job, out)
	}

	if err := p.Repo.UpsertResult(ctx, &jobs.Result{
		JobID:        job.ID,
		ModelVersion: cls.ModelVersion,
		Outcome:      jobs.OutcomeClassified,
		RawJSON:      cls.Result.JSON(),
	}); err != nil {
		return err
	}

	if _, err := p.Writer.Write(ctx, item.ItemID, cls.Result, fieldMap); err != nil {
		// the job still completes; the failure stays on the result row
		log.WithError(err).Error("job.writeback failed")
		msg := err.Error()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := p.Repo.SetWritebackError(wctx, job.ID, &msg); serr != nil {
			log.WithError(serr).Warn("job.writeback error not recorded")
		}
	}
	return nil
}

func (p *Processor) noUsableInput(ctx context.Context, job *jobs.Job, out *documents.Output) error {
	logger.WithFields(logger.Fields{"job_id": job.ID, "skipped_files": len(out.Skipped)}).Warn("job.no usable input")
	return p.Repo.UpsertResult(ctx, &jobs.Result{
		JobID:   job.ID,
		Outcome: jobs.OutcomeNoUsableInput,
		RawJSON: []byte(`{}`),
	})
}

// documentStats summarizes a pipeline run for the job log.
func documentStats(out *documents.Output) logger.Fields {
	f := logger.Fields{
		"texts":   len(out.Texts),
		"images":  len(out.Images),
		"staged":  len(out.Staged),
		"skipped": len(out.Skipped),
	}
	degraded := 0
	for _, ex := range out.PDFs {
		if ex.Status != documents.ExtractOK {
			degraded++
		}
	}
	f["pdfs"] = len(out.PDFs)
	f["pdfs_degraded"] = degraded
	return f
}

func (p *Processor) appID(job *jobs.Job, item *podio.Item) int64 {
	if job.SourceAppID != nil && *job.SourceAppID != 0 {
		return *job.SourceAppID
	}
	if item.App.AppID != 0 {
		return item.App.AppID
	}
	return p.DefaultAppID
}

func (p *Processor) resolveFields(ctx context.Context, job *jobs.Job, item *podio.Item) (fields.Map, error) {
	appID := p.appID(job, item)
	if appID == 0 {
		logger.WithFields(logger.Fields{"job_id": job.ID}).Warn("job.no app id, nothing will be written")
		return fields.Map{}, nil
	}
	appFields, err := p.Podio.GetAppFields(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("fetch app %d fields: %w", appID, err)
	}
	schema := make([]fields.Field, 0, len(appFields))
	for _, f := range appFields {
		schema = append(schema, fields.Field{ID: f.FieldID, Type: f.Type, ExternalID: f.ExternalID, Label: f.DisplayLabel()})
	}
	return fields.Resolve(schema, fields.Rules), nil
}
