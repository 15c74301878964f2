package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
	"github.com/joseph-ayodele/doc-translator/internal/textsplit"
)

// TranslateStage translates sentence by sentence. Each sentence is one
// checkpointed unit, so a resumed run never sends a sentence twice.
//
// With a Memory, a sentence the owner has corrected before is not sent to the
// model; the stored correction is used instead. Other sentences carry the
// owner's recent corrections as examples and the previous sentence as context.
type TranslateStage struct {
	Translator llm.Translator
	Logger     *slog.Logger
	Memory     Memory
	// ExampleTokens bounds the corrections added to each request.
	ExampleTokens int
}

func NewTranslateStage(tr llm.Translator, logger *slog.Logger) *TranslateStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranslateStage{Translator: tr, Logger: logger}
}

type sentence struct {
	paragraph int
	text      string
}

func (s *TranslateStage) Execute(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
	source := in.SourceLanguage
	if source == "" || source == constants.LanguageAuto {
		source = textsplit.DetectLanguage(in.Text)
		s.Logger.Info("pipeline.translate.detected", "job_id", in.JobID, "language", source)
	}

	var sentences []sentence
	for i, para := range textsplit.Paragraphs(in.Text, source) {
		for _, t := range para {
			sentences = append(sentences, sentence{paragraph: i, text: t})
		}
	}
	total := len(sentences)

	cursor, units := stage.Resumed(in.Resume)
	if in.Resume != nil && in.Resume.Total != total {
		s.Logger.Warn("pipeline.translate.resume_mismatch", "job_id", in.JobID, "checkpoint_total", in.Resume.Total, "sentences", total)
		cursor, units = 0, nil
	}
	if cursor > 0 {
		s.Logger.Info("pipeline.translate.resume", "job_id", in.JobID, "sentence", cursor+1, "sentences", total)
	}

	passthrough := source == in.TargetLanguage
	if passthrough {
		s.Logger.Warn("pipeline.translate.same_language", "job_id", in.JobID, "language", source)
	}
	var mem recall
	if !passthrough && cursor < total {
		mem = s.recall(ctx, in, source)
	}

	for i := cursor; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return stage.Output{}, err
		}
		src := sentences[i].text
		out := src
		if c, ok := mem.lookup(src); ok && !passthrough {
			out = c.Translation
			s.Memory.Applied(ctx, c.ID)
			s.Logger.Debug("pipeline.translate.corrected", "job_id", in.JobID, "sentence", i+1, "correction_id", c.ID)
		} else if !passthrough {
			req := llm.TranslateRequest{
				Text:           src,
				SourceLanguage: source,
				TargetLanguage: in.TargetLanguage,
				Examples:       mem.examples,
			}
			if i > 0 {
				req.Context = sentences[i-1].text
			}
			var err error
			out, err = s.Translator.Translate(ctx, req)
			if err != nil {
				return stage.Output{}, fmt.Errorf("sentence %d/%d: %w", i+1, total, err)
			}
		}
		units = append(units, entity.Segment{Source: src, Text: out})

		pct := stage.Percent(i+1, total)
		r.Progress(pct)
		cp := entity.Checkpoint{Cursor: i + 1, Total: total, Percent: pct, Units: units}
		if err := r.Checkpoint(*cp.Clone()); err != nil {
			return stage.Output{}, err
		}
	}

	s.Logger.Info("pipeline.translate.done", "job_id", in.JobID, "sentences", total, "source", source, "target", in.TargetLanguage)
	return stage.Output{Text: assemble(sentences, units, in.TargetLanguage), Segments: units}, nil
}

func (s *TranslateStage) recall(ctx context.Context, in stage.Input, source string) recall {
	if s.Memory == nil || in.OwnerID == "" {
		return recall{}
	}
	cs, err := s.Memory.Corrections(ctx, in.OwnerID, source, in.TargetLanguage)
	if err != nil {
		s.Logger.Warn("pipeline.translate.memory failed", "job_id", in.JobID, "error", err)
		return recall{}
	}
	r := newRecall(cs, s.ExampleTokens)
	if len(cs) > 0 {
		s.Logger.Info("pipeline.translate.memory", "job_id", in.JobID, "corrections", len(cs), "examples", len(r.examples))
	}
	return r
}

// assemble joins translated sentences back into paragraphs.
func assemble(sentences []sentence, units []entity.Segment, target string) string {
	sep := " "
	if target == "zh" {
		sep = ""
	}
	var (
		paras []string
		cur   []string
		last  = -1
	)
	for i, u := range units {
		p := sentences[i].paragraph
		if p != last && len(cur) > 0 {
			paras = append(paras, strings.Join(cur, sep))
			cur = nil
		}
		last = p
		cur = append(cur, u.Text)
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, sep))
	}
	return strings.Join(paras, "\n\n")
}
