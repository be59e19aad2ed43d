// Package documents turns an item's attachments into classifier inputs:
// download, content-type resolution, PDF text extraction and staging.
package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tariffsync/internal/logger"
	"tariffsync/internal/metrics"
	"tariffsync/internal/podio"
	"tariffsync/internal/storage"

	"golang.org/x/sync/errgroup"
)

var ErrNoDownloadLink = errors.New("no download link")

// Source is the subset of the Podio client the pipeline needs.
type Source interface {
	DownloadRaw(ctx context.Context, fileID int64) (*podio.Download, error)
	GetFile(ctx context.Context, fileID int64) (*podio.File, error)
	DownloadLink(ctx context.Context, link string) (*podio.Download, error)
}

type Pipeline struct {
	Source    Source
	Store     storage.Store // nil sends images inline
	Extractor *Extractor

	Concurrency  int
	InlineMaxDim int
	Now          func() time.Time
}

// Staged is an attachment that was uploaded to the store.
type Staged struct {
	File        podio.File
	Key         string
	ContentType string
	Size        int64
	URL         string
}

// Skipped records an attachment that contributed nothing.
type Skipped struct {
	File   podio.File
	Reason string
}

type Output struct {
	Texts   []string
	Images  []string
	Staged  []Staged
	Skipped []Skipped
	PDFs    []Extraction
}

// HasInput reports whether anything usable came out of the attachments.
func (o *Output) HasInput() bool {
	return len(o.Texts) > 0 || len(o.Images) > 0
}

type slot struct {
	text    string
	image   string
	staged  *Staged
	skipped *Skipped
	pdf     *Extraction
}

// Run processes files for one item. Failures of a single file are recorded
// in Output.Skipped; only cancellation of ctx returns an error.
func (p *Pipeline) Run(ctx context.Context, itemID int64, files []podio.File) (*Output, error) {
	ordered := ImagesFirst(files)
	slots := make([]slot, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range ordered {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			slots[i] = p.one(gctx, itemID, i, ordered[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Output{}
	for _, s := range slots {
		if s.staged != nil {
			out.Staged = append(out.Staged, *s.staged)
		}
		if s.skipped != nil {
			out.Skipped = append(out.Skipped, *s.skipped)
		}
		if s.pdf != nil {
			out.PDFs = append(out.PDFs, *s.pdf)
		}
		if s.image != "" {
			out.Images = append(out.Images, s.image)
		}
		if s.text != "" {
			out.Texts = append(out.Texts, s.text)
		}
	}
	return out, nil
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) one(ctx context.Context, itemID int64, ordinal int, f podio.File) slot {
	log := logger.WithFields(logger.Fields{"item_id": itemID, "file_id": f.FileID, "name": f.Name})
	skip := func(kind, reason string, err error) slot {
		metrics.Documents.WithLabelValues(kind, "skipped").Inc()
		entry := log.WithField("reason", reason)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("document.skipped")
		msg := reason
		if err != nil {
			msg = reason + ": " + err.Error()
		}
		return slot{skipped: &Skipped{File: f, Reason: msg}}
	}

	dl, err := p.Download(ctx, f)
	if err != nil {
		return skip("unknown", "download failed", err)
	}
	ct := ResolveContentType(f.Mimetype, dl.ContentType, f.Name)
	kind := "other"
	switch {
	case IsImage(ct):
		kind = "image"
	case IsPDF(ct):
		kind = "pdf"
	default:
		return skip(kind, "unsupported content type "+ct, nil)
	}
	log.WithFields(logger.Fields{"bytes": len(dl.Data), "content_type": ct}).Debug("document.downloaded")

	var s slot
	if p.Store != nil {
		key := ObjectKey(itemID, p.now().UnixMilli(), ordinal, f.Name)
		obj, err := p.Store.Upload(ctx, key, ct, dl.Data)
		if err != nil {
			return skip(kind, "upload failed", err)
		}
		s.staged = &Staged{File: f, Key: key, ContentType: ct, Size: int64(len(dl.Data)), URL: obj.URL}
	}

	switch kind {
	case "image":
		if s.staged != nil && s.staged.URL != "" {
			s.image = s.staged.URL
		} else {
			s.image = DataURL(dl.Data, ct, p.InlineMaxDim)
		}
	case "pdf":
		ex := p.extractor().Extract(ctx, dl.Data)
		metrics.PDFExtractions.WithLabelValues(string(ex.Status)).Inc()
		fields := logger.Fields{"status": ex.Status, "chars": len([]rune(ex.Text)), "pages": ex.Pages, "truncated": ex.Truncated}
		if ex.Err != nil {
			log.WithFields(fields).WithError(ex.Err).Warn("document.pdf degraded")
		} else {
			log.WithFields(fields).Info("document.pdf extracted")
		}
		s.pdf = &ex
		s.text = ex.Text
	}
	metrics.Documents.WithLabelValues(kind, "used").Inc()
	return s
}

func (p *Pipeline) extractor() *Extractor {
	if p.Extractor == nil {
		return NewExtractor(0, 0, 0)
	}
	return p.Extractor
}

// Download fetches the raw bytes, falling back to the file's link with
// download=1 when the raw endpoint fails or returns nothing.
func (p *Pipeline) Download(ctx context.Context, f podio.File) (*podio.Download, error) {
	dl, rawErr := p.Source.DownloadRaw(ctx, f.FileID)
	if rawErr == nil && len(dl.Data) > 0 {
		return dl, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	link := ""
	meta, err := p.Source.GetFile(ctx, f.FileID)
	if err == nil && meta != nil {
		link = meta.Link
	}
	if link == "" {
		link = f.Link
	}
	if link == "" {
		if rawErr != nil {
			return nil, fmt.Errorf("%w (raw: %v)", ErrNoDownloadLink, rawErr)
		}
		return nil, ErrNoDownloadLink
	}

	alt, err := p.Source.DownloadLink(ctx, WithDownloadFlag(link))
	if err != nil {
		return nil, fmt.Errorf("fallback download: %w", err)
	}
	return alt, nil
}

// WithDownloadFlag appends download=1 to a link's query.
func WithDownloadFlag(link string) string {
	if strings.Contains(link, "?") {
		return link + "&download=1"
	}
	return link + "?download=1"
}
