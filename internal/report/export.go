// Package report exports job history as a spreadsheet.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"tariffsync/internal/classifier"
	"tariffsync/internal/jobs"
	"tariffsync/internal/logger"

	"github.com/xuri/excelize/v2"
)

const sheet = "Jobs"

var headers = []string{
	"Job ID",
	"Item",
	"App",
	"Source",
	"Status",
	"Created",
	"Finished",
	"Error",
	"Outcome",
	"Fracción",
	"Model",
	"Files",
	"Writeback Error",
}

type Exporter struct {
	Repo *jobs.Repo
}

// ExportXLSX returns a workbook with one row per job matching f.
func (e *Exporter) ExportXLSX(ctx context.Context, f jobs.ListFilter) ([]byte, error) {
	start := time.Now()
	list, err := e.Repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	x := excelize.NewFile()
	defer x.Close()
	if err := x.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = x.SetCellValue(sheet, cell, h)
	}

	for i, j := range list {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = x.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID)
		write(2, j.SourceItemID)
		if j.SourceAppID != nil {
			write(3, *j.SourceAppID)
		}
		write(4, j.Source)
		write(5, string(j.Status))
		write(6, j.CreatedAt.UTC().Format(time.RFC3339))
		if j.FinishedAt != nil {
			write(7, j.FinishedAt.UTC().Format(time.RFC3339))
		}
		if j.Error != nil {
			write(8, *j.Error)
		}

		res, err := e.Repo.GetResult(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		if res != nil {
			write(9, res.Outcome)
			parsed, _ := classifier.Parse(string(res.RawJSON))
			if v, ok := parsed.Text(classifier.KeyFraccion); ok {
				write(10, v)
			}
			write(11, res.ModelVersion)
			if res.WritebackError != nil {
				write(13, *res.WritebackError)
			}
		}
		files, err := e.Repo.Files(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		write(12, len(files))
	}

	_ = x.SetColWidth(sheet, "A", "A", 38)
	_ = x.SetColWidth(sheet, "F", "G", 22)
	_ = x.SetColWidth(sheet, "H", "H", 40)

	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	logger.WithFields(logger.Fields{"rows": len(list), "elapsed_ms": time.Since(start).Milliseconds()}).Info("report.export")
	return buf.Bytes(), nil
}
