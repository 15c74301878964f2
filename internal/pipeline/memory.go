package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
)

// Memory supplies a user's corrections for a language pair, most recently used first.
type Memory interface {
	Corrections(ctx context.Context, owner, source, target string) ([]*entity.Correction, error)
	// Applied records that a correction replaced a model translation.
	Applied(ctx context.Context, id string)
}

// maxRecalled bounds how many corrections one translate run loads.
const maxRecalled = 500

// StoreMemory reads corrections from the correction store.
type StoreMemory struct {
	store  repository.CorrectionStore
	logger *slog.Logger
	now    func() time.Time
}

func NewStoreMemory(store repository.CorrectionStore, logger *slog.Logger) *StoreMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreMemory{store: store, logger: logger, now: time.Now}
}

func (m *StoreMemory) Corrections(ctx context.Context, owner, source, target string) ([]*entity.Correction, error) {
	out, _, err := m.store.ListCorrections(ctx, repository.CorrectionFilter{
		OwnerID:        owner,
		SourceLanguage: source,
		TargetLanguage: target,
		RecentlyUsed:   true,
		Limit:          maxRecalled,
	})
	return out, err
}

func (m *StoreMemory) Applied(ctx context.Context, id string) {
	if err := m.store.TouchCorrection(ctx, id, m.now()); err != nil {
		m.logger.Warn("pipeline.memory.touch failed", "correction_id", id, "error", err)
	}
}

// recall is one run's view of the memory.
type recall struct {
	exact    map[string]*entity.Correction
	examples []llm.Example
}

// newRecall indexes corrections by normalized source text and picks prompt
// examples until the token budget is spent.
func newRecall(cs []*entity.Correction, tokenBudget int) recall {
	r := recall{exact: make(map[string]*entity.Correction, len(cs))}
	spent, full := 0, tokenBudget <= 0
	for _, c := range cs {
		key := normalizeSentence(c.SourceText)
		if _, dup := r.exact[key]; !dup {
			r.exact[key] = c
		}
		// roughly 3 characters per token across the supported languages
		cost := (len([]rune(c.SourceText)) + len([]rune(c.Translation))) / 3
		if !full && spent+cost <= tokenBudget {
			r.examples = append(r.examples, llm.Example{Source: c.SourceText, Translation: c.Translation})
			spent += cost
		} else {
			full = true
		}
	}
	return r
}

func (r recall) lookup(sentence string) (*entity.Correction, bool) {
	c, ok := r.exact[normalizeSentence(sentence)]
	return c, ok
}

func normalizeSentence(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
