package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
	"github.com/joseph-ayodele/doc-translator/internal/textsplit"
)

// PageExtractor is the part of ocr.Extractor the OCR stage needs.
type PageExtractor interface {
	Pages(ctx context.Context, path string) (int, error)
	ExtractPage(ctx context.Context, path string, page int, lang string) (string, error)
}

// OCRStage extracts text page by page. Each page is one checkpointed unit.
type OCRStage struct {
	Extractor PageExtractor
	Logger    *slog.Logger
}

func NewOCRStage(ex PageExtractor, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{Extractor: ex, Logger: logger}
}

// Execute runs OCR on in.FilePath from the page after the resume cursor and
// returns the cross-page merged text with one segment per page.
func (s *OCRStage) Execute(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
	if in.FilePath == "" {
		return stage.Output{}, common.NewAppError(common.CodeValidation, "ocr stage needs an input file", common.ErrInvalidInput)
	}
	total, err := s.Extractor.Pages(ctx, in.FilePath)
	if err != nil {
		return stage.Output{}, err
	}

	cursor, units := stage.Resumed(in.Resume)
	if in.Resume != nil && in.Resume.Total != total {
		s.Logger.Warn("pipeline.ocr.resume_mismatch", "job_id", in.JobID, "checkpoint_total", in.Resume.Total, "pages", total)
		cursor, units = 0, nil
	}
	if cursor > 0 {
		s.Logger.Info("pipeline.ocr.resume", "job_id", in.JobID, "page", cursor+1, "pages", total)
	}

	for page := cursor + 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return stage.Output{}, err
		}
		text, err := s.Extractor.ExtractPage(ctx, in.FilePath, page, in.SourceLanguage)
		if err != nil {
			return stage.Output{}, fmt.Errorf("page %d: %w", page, err)
		}
		units = append(units, entity.Segment{Text: text})

		pct := stage.Percent(page, total)
		r.Progress(pct)
		cp := entity.Checkpoint{Cursor: page, Total: total, Percent: pct, Units: units}
		if err := r.Checkpoint(*cp.Clone()); err != nil {
			return stage.Output{}, err
		}
		s.Logger.Debug("pipeline.ocr.page", "job_id", in.JobID, "page", page, "pages", total, "chars", len(text))
	}

	pages := make([]textsplit.Page, 0, len(units))
	for i, u := range units {
		pages = append(pages, textsplit.Page{Number: i + 1, Text: u.Text})
	}
	blocks := textsplit.MergePages(pages)
	s.Logger.Info("pipeline.ocr.done", "job_id", in.JobID, "pages", total, "blocks", len(blocks))
	return stage.Output{Text: textsplit.JoinBlocks(blocks), Segments: units}, nil
}
