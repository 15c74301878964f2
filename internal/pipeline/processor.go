// Package pipeline holds the stage executors the job engine runs: OCR page
// extraction and sentence-level translation.
package pipeline

import (
	"log/slog"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

// Option configures the executors built by NewRegistry.
type Option func(*TranslateStage)

// WithMemory lets the translate stage reuse the owner's corrections, adding up
// to exampleTokens of them to each request.
func WithMemory(m Memory, exampleTokens int) Option {
	return func(s *TranslateStage) {
		s.Memory = m
		s.ExampleTokens = exampleTokens
	}
}

// NewRegistry wires the OCR and translate executors by stage kind.
func NewRegistry(ex PageExtractor, tr llm.Translator, logger *slog.Logger, opts ...Option) stage.Registry {
	if logger == nil {
		logger = slog.Default()
	}
	translate := NewTranslateStage(tr, logger.With("stage", constants.StageTranslate))
	for _, o := range opts {
		o(translate)
	}
	return stage.Registry{
		constants.StageOCR:       NewOCRStage(ex, logger.With("stage", constants.StageOCR)),
		constants.StageTranslate: translate,
	}
}
