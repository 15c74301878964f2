package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/llm"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu          sync.Mutex
	progress    []int
	checkpoints []entity.Checkpoint
	// suspendAt makes Checkpoint return ErrSuspended once the cursor reaches it.
	suspendAt int
}

func (r *recorder) Progress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) Checkpoint(cp entity.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, cp)
	if r.suspendAt > 0 && cp.Cursor >= r.suspendAt {
		return stage.ErrSuspended
	}
	return nil
}

func (r *recorder) last() *entity.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.checkpoints) == 0 {
		return nil
	}
	return r.checkpoints[len(r.checkpoints)-1].Clone()
}

type fakePages struct {
	mu    sync.Mutex
	pages []string
	seen  []int
	fail  int
}

func (f *fakePages) Pages(context.Context, string) (int, error) { return len(f.pages), nil }

func (f *fakePages) ExtractPage(_ context.Context, _ string, page int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, page)
	if page == f.fail {
		return "", errors.New("tesseract exploded")
	}
	return f.pages[page-1], nil
}

// upper "translates" by upper-casing and records every sentence it was sent.
type upper struct {
	mu   sync.Mutex
	sent []string
}

func (u *upper) Translate(_ context.Context, req llm.TranslateRequest) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = append(u.sent, req.Text)
	return strings.ToUpper(req.Text), nil
}

func TestOCRStagePerPageCheckpoints(t *testing.T) {
	ex := &fakePages{pages: []string{"The first page ends", "mid sentence.", "Second block."}}
	r := &recorder{}
	out, err := NewOCRStage(ex, quiet()).Execute(context.Background(), stage.Input{JobID: "j", FilePath: "doc.pdf"}, r)
	require.NoError(t, err)

	assert.Equal(t, "The first page ends mid sentence.\n\nSecond block.", out.Text)
	require.Len(t, out.Segments, 3)
	assert.Equal(t, []int{33, 66, 100}, r.progress)
	require.Len(t, r.checkpoints, 3)
	assert.Equal(t, 2, r.checkpoints[1].Cursor)
	assert.Equal(t, 3, r.checkpoints[1].Total)
	assert.Len(t, r.checkpoints[1].Units, 2)
}

func TestOCRStageResumesAfterCursor(t *testing.T) {
	ex := &fakePages{pages: []string{"one.", "two.", "three."}}
	resume := &entity.Checkpoint{Cursor: 2, Total: 3, Percent: 66, Units: []entity.Segment{{Text: "one."}, {Text: "two."}}}
	out, err := NewOCRStage(ex, quiet()).Execute(context.Background(), stage.Input{FilePath: "doc.pdf", Resume: resume}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ex.seen, "committed pages are not extracted again")
	assert.Equal(t, "one.\n\ntwo.\n\nthree.", out.Text)
}

func TestOCRStageErrors(t *testing.T) {
	_, err := NewOCRStage(&fakePages{}, quiet()).Execute(context.Background(), stage.Input{Text: "no file"}, &recorder{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	ex := &fakePages{pages: []string{"a.", "b."}, fail: 2}
	r := &recorder{}
	_, err = NewOCRStage(ex, quiet()).Execute(context.Background(), stage.Input{FilePath: "doc.pdf"}, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, 1, r.last().Cursor)
}

func TestTranslateStageSentences(t *testing.T) {
	tr := &upper{}
	in := stage.Input{
		JobID:          "j",
		SourceLanguage: "en",
		TargetLanguage: "de",
		Text:           "Title\n\nFirst one. Second one.\n\nThird one.",
	}
	r := &recorder{}
	out, err := NewTranslateStage(tr, quiet()).Execute(context.Background(), in, r)
	require.NoError(t, err)

	assert.Equal(t, "TITLE\n\nFIRST ONE. SECOND ONE.\n\nTHIRD ONE.", out.Text)
	assert.Equal(t, []entity.Segment{
		{Source: "Title", Text: "TITLE"},
		{Source: "First one.", Text: "FIRST ONE."},
		{Source: "Second one.", Text: "SECOND ONE."},
		{Source: "Third one.", Text: "THIRD ONE."},
	}, out.Segments)
	assert.Equal(t, []int{25, 50, 75, 100}, r.progress)
}

func TestTranslateStageSuspendAndResume(t *testing.T) {
	tr := &upper{}
	in := stage.Input{SourceLanguage: "en", TargetLanguage: "ru", Text: "A one. B two. C three. D four."}
	r := &recorder{suspendAt: 2}

	_, err := NewTranslateStage(tr, quiet()).Execute(context.Background(), in, r)
	require.ErrorIs(t, err, stage.ErrSuspended)

	in.Resume = r.last()
	out, err := NewTranslateStage(tr, quiet()).Execute(context.Background(), in, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A one.", "B two.", "C three.", "D four."}, tr.sent, "no sentence is sent twice")
	assert.Equal(t, "A ONE. B TWO. C THREE. D FOUR.", out.Text)
}

func TestTranslateStageDetectsAndJoinsChinese(t *testing.T) {
	var got []llm.TranslateRequest
	tr := llm.TranslatorFunc(func(_ context.Context, req llm.TranslateRequest) (string, error) {
		got = append(got, req)
		return "译" + fmt.Sprint(len(got)) + "。", nil
	})
	in := stage.Input{SourceLanguage: constants.LanguageAuto, TargetLanguage: "zh", Text: "Это первое. Это второе."}
	out, err := NewTranslateStage(tr, quiet()).Execute(context.Background(), in, &recorder{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ru", got[0].SourceLanguage)
	assert.Equal(t, "译1。译2。", out.Text)
}

func TestTranslateStageErrorAndPassthrough(t *testing.T) {
	boom := llm.TranslatorFunc(func(context.Context, llm.TranslateRequest) (string, error) {
		return "", common.NewAppError(common.CodeUpstream, "translate", common.ErrUpstream)
	})
	_, err := NewTranslateStage(boom, quiet()).Execute(context.Background(),
		stage.Input{SourceLanguage: "en", TargetLanguage: "de", Text: "Hi there."}, &recorder{})
	require.Error(t, err)
	assert.Equal(t, common.CodeUpstream, common.ErrorCode(err))

	out, err := NewTranslateStage(boom, quiet()).Execute(context.Background(),
		stage.Input{SourceLanguage: "en", TargetLanguage: "en", Text: "Same. Language."}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "Same. Language.", out.Text)

	out, err = NewTranslateStage(boom, quiet()).Execute(context.Background(),
		stage.Input{SourceLanguage: "en", TargetLanguage: "de", Text: "   "}, &recorder{})
	require.NoError(t, err)
	assert.Empty(t, out.Text)
}

func TestRegistryRunsThroughEngine(t *testing.T) {
	store := repository.NewMemoryStore(quiet())
	tr := &upper{}
	require.NoError(t, store.AddCorrection(context.Background(), &entity.Correction{
		ID: "c1", OwnerID: "u1", SourceLanguage: "en", TargetLanguage: "de",
		SourceText: "Page two.", Translation: "Seite zwei.", CreatedAt: time.Now(),
	}))
	registry := NewRegistry(&fakePages{pages: []string{"Page one.", "Page two."}}, tr, quiet(),
		WithMemory(NewStoreMemory(store, quiet()), 100))
	sched, query := jobs.NewEngine(store, registry, common.EngineConfig{StageTimeout: time.Minute, StaleRetries: 5, EventBuffer: 64}, quiet())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), &entity.Job{
		ID:             "job-e2e",
		OwnerID:        "u1",
		SourceLanguage: "en",
		TargetLanguage: "de",
		StagesPlan:     []constants.StageKind{constants.StageOCR, constants.StageTranslate},
		Input:          entity.JobInput{FilePath: "scan.pdf"},
		State:          constants.JobStateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	_, err := sched.Start(context.Background(), "job-e2e")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := query.Progress(context.Background(), "job-e2e")
		return err == nil && s.State == constants.JobStateCompleted
	}, 5*time.Second, 5*time.Millisecond)

	res, err := query.Result(context.Background(), "job-e2e")
	require.NoError(t, err)
	assert.Equal(t, []string{"Page one.\n\nPage two.", "PAGE ONE.\n\nSeite zwei."}, res.Outputs())
	assert.Equal(t, []string{"Page one."}, tr.sent, "the corrected sentence is not sent")
}

func TestTranslateStageAppliesCorrections(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(quiet())
	base := time.Now().UTC()
	for i, c := range []entity.Correction{
		{ID: "c1", OwnerID: "u1", SourceLanguage: "en", TargetLanguage: "de", SourceText: "second  one.", Translation: "Das Zweite."},
		{ID: "c2", OwnerID: "u1", SourceLanguage: "en", TargetLanguage: "ru", SourceText: "First one.", Translation: "Первое."},
		{ID: "c3", OwnerID: "u2", SourceLanguage: "en", TargetLanguage: "de", SourceText: "First one.", Translation: "Fremd."},
	} {
		c.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.AddCorrection(ctx, &c))
	}

	var got []llm.TranslateRequest
	tr := llm.TranslatorFunc(func(_ context.Context, req llm.TranslateRequest) (string, error) {
		got = append(got, req)
		return strings.ToUpper(req.Text), nil
	})
	st := NewTranslateStage(tr, quiet())
	st.Memory = NewStoreMemory(store, quiet())
	st.ExampleTokens = 100

	in := stage.Input{JobID: "j", OwnerID: "u1", SourceLanguage: "en", TargetLanguage: "de", Text: "First one. Second one. Third one."}
	out, err := st.Execute(ctx, in, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "FIRST ONE. Das Zweite. THIRD ONE.", out.Text)

	require.Len(t, got, 2)
	assert.Empty(t, got[0].Context)
	assert.Equal(t, "Second one.", got[1].Context)
	want := []llm.Example{{Source: "second  one.", Translation: "Das Zweite."}}
	assert.Equal(t, want, got[0].Examples, "only the owner's corrections for the pair")
	assert.Equal(t, want, got[1].Examples)

	c, err := store.GetCorrection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsageCount)
	assert.NotNil(t, c.LastUsedAt)
}

type brokenMemory struct{}

func (brokenMemory) Corrections(context.Context, string, string, string) ([]*entity.Correction, error) {
	return nil, errors.New("store down")
}

func (brokenMemory) Applied(context.Context, string) {}

func TestTranslateStageWithoutMemory(t *testing.T) {
	tr := &upper{}
	st := NewTranslateStage(tr, quiet())
	st.Memory = brokenMemory{}
	out, err := st.Execute(context.Background(),
		stage.Input{OwnerID: "u1", SourceLanguage: "en", TargetLanguage: "de", Text: "One. Two."}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "ONE. TWO.", out.Text)
}

func TestRecallExampleBudget(t *testing.T) {
	cs := []*entity.Correction{
		{ID: "a", SourceText: "aaaaaa", Translation: "bbb"},       // 3 tokens
		{ID: "b", SourceText: "cccccccccccc", Translation: "ddd"}, // 5 tokens
		{ID: "c", SourceText: "e", Translation: "ff"},             // 1 token
		{ID: "d", SourceText: "AAAAAA", Translation: "older"},
	}
	r := newRecall(cs, 6)
	assert.Equal(t, []llm.Example{{Source: "aaaaaa", Translation: "bbb"}}, r.examples, "selection stops at the first correction that does not fit")

	c, ok := r.lookup(" AAAAAA ")
	require.True(t, ok)
	assert.Equal(t, "a", c.ID, "the most recent correction wins")

	assert.Empty(t, newRecall(cs, 0).examples)
}
