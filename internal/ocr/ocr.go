package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
)

type Config struct {
	Pdfinfo   string // binary name or absolute path; if empty -> "pdfinfo"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Lang     string // tesseract language used when the job's source is auto, default "eng"
	DPI      int    // rasterization DPI for PDF pages, default 150
	MaxPages int    // 0 = no limit

	TessdataDir string

	// HeicConverter turns HEIC/HEIF into PNG before OCR: magick (default),
	// heif-convert or sips.
	HeicConverter string
}

// tesseractLangs maps job language codes to tesseract traineddata names.
var tesseractLangs = map[string]string{
	"en": "eng",
	"de": "deu",
	"ru": "rus",
	"zh": "chi_sim",
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the command runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewExtractorFromConfig builds an extractor from the ocr config section.
func NewExtractorFromConfig(cfg common.OCRConfig, logger *slog.Logger, opts ...Option) *Extractor {
	return NewExtractor(Config{
		Pdfinfo:       cfg.Pdfinfo,
		Pdftoppm:      cfg.Pdftoppm,
		Tesseract:     cfg.Tesseract,
		Lang:          cfg.Lang,
		DPI:           cfg.DPI,
		MaxPages:      cfg.MaxPages,
		TessdataDir:   cfg.TessdataDir,
		HeicConverter: cfg.HeicConverter,
	}, logger, opts...)
}

// TesseractLang returns the traineddata name for a job language code.
func (e *Extractor) TesseractLang(code string) string {
	if l, ok := tesseractLangs[code]; ok {
		return l
	}
	return e.cfg.Lang
}

// Pages returns the number of pages ExtractPage can be called for.
// Images and text files have a single page.
func (e *Extractor) Pages(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, common.NewAppError(common.CodeNotFound, "input file "+path, common.ErrNotFound)
	}
	switch format(path) {
	case constants.PDF:
		n, err := e.pdfPageCount(ctx, path)
		if err != nil {
			return 0, err
		}
		if e.cfg.MaxPages > 0 && n > e.cfg.MaxPages {
			e.logger.Warn("ocr.page_limit", "path", path, "pages", n, "max_pages", e.cfg.MaxPages)
			n = e.cfg.MaxPages
		}
		return n, nil
	case constants.IMAGE, constants.TEXT:
		return 1, nil
	default:
		e.logger.Error("unsupported ocr extension", "path", path)
		return 0, common.NewAppError(common.CodeValidation, fmt.Sprintf("unsupported extension: %q", filepath.Ext(path)), common.ErrInvalidInput)
	}
}

// ExtractPage returns the normalized text of one page (1-based). lang is a job
// language code or "auto".
func (e *Extractor) ExtractPage(ctx context.Context, path string, page int, lang string) (string, error) {
	switch format(path) {
	case constants.TEXT:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return Normalize(string(b)), nil
	case constants.IMAGE:
		if constants.IsHEIC(filepath.Ext(path)) {
			png, cleanup, err := e.convertHEIC(ctx, path)
			if err != nil {
				return "", err
			}
			defer cleanup()
			path = png
		}
		txt, err := e.tesseract(ctx, path, lang)
		if err != nil {
			return "", err
		}
		return Normalize(txt), nil
	case constants.PDF:
		txt, err := e.pdfPage(ctx, path, page, lang)
		if err != nil {
			return "", err
		}
		return Normalize(txt), nil
	default:
		return "", common.NewAppError(common.CodeValidation, fmt.Sprintf("unsupported extension: %q", filepath.Ext(path)), common.ErrInvalidInput)
	}
}

func format(path string) string {
	return constants.MapExtToFormat(filepath.Ext(path))
}
