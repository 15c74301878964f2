package translation

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

type fixture struct {
	svc     *Service
	store   *repository.MemoryStore
	uploads string
	// gate blocks the translate executor while non-nil and open.
	gate chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: repository.NewMemoryStore(logger), uploads: t.TempDir()}

	registry := stage.Registry{
		constants.StageOCR: stage.ExecutorFunc(func(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
			b, err := os.ReadFile(in.FilePath)
			if err != nil {
				return stage.Output{}, err
			}
			return stage.Output{Text: string(b)}, nil
		}),
		constants.StageTranslate: stage.ExecutorFunc(func(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return stage.Output{}, ctx.Err()
				}
			}
			return stage.Output{Text: in.TargetLanguage + ":" + in.Text}, nil
		}),
	}
	sched, query := jobs.NewEngine(f.store, registry, common.EngineConfig{StageTimeout: time.Minute, StaleRetries: 5, EventBuffer: 128}, logger)
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	var n atomic.Int64
	f.svc = NewService(f.store, sched, query, logger,
		WithUploads(f.uploads, 1024),
		WithIDGenerator(func() string { return "job-" + strconv.FormatInt(n.Add(1), 10) }),
	)
	return f
}

func as(user string) context.Context {
	return common.WithPrincipal(context.Background(), common.Principal{UserID: user})
}

func (f *fixture) waitState(t *testing.T, ctx context.Context, id string, want constants.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := f.svc.GetProgress(ctx, id)
		return err == nil && s.State == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStartTranslationText(t *testing.T) {
	f := newFixture(t)
	ctx := as("alice")

	snap, err := f.svc.StartTranslation(ctx, StartTranslationParams{SourceLanguage: "en", TargetLanguage: "de", Text: "Hello."})
	require.NoError(t, err)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, []constants.StageKind{constants.StageTranslate}, snap.StagesPlan)

	f.waitState(t, ctx, snap.JobID, constants.JobStateCompleted)
	res, err := f.svc.GetResult(ctx, snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"de:Hello."}, res.Outputs())

	events, err := f.svc.ListEvents(ctx, snap.JobID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, constants.JobStateCompleted, events[len(events)-1].To)
}

func TestStartTranslationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := as("alice")

	_, err := f.svc.StartTranslation(context.Background(), StartTranslationParams{SourceLanguage: "en", TargetLanguage: "de", Text: "x"})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	cases := []StartTranslationParams{
		{SourceLanguage: "en", TargetLanguage: "de"},
		{SourceLanguage: "en", TargetLanguage: "en", Text: "x"},
		{SourceLanguage: "fr", TargetLanguage: "de", Text: "x"},
		{SourceLanguage: "en", TargetLanguage: "auto", Text: "x"},
		{SourceLanguage: "en", TargetLanguage: "de", Text: "x", SourceJobID: "job-9"},
	}
	for i, c := range cases {
		_, err := f.svc.StartTranslation(ctx, c)
		assert.ErrorIs(t, err, common.ErrValidation, "case %d", i)
	}
}

func TestUploadOCRChainsIntoTranslation(t *testing.T) {
	f := newFixture(t)
	ctx := as("alice")

	snap, err := f.svc.UploadOCR(ctx, UploadOCRParams{
		Upload:         Upload{FileName: "../../notes.txt", Content: []byte("Scanned text.")},
		SourceLanguage: "en",
		TargetLanguage: "ru",
		AutoTranslate:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []constants.StageKind{constants.StageOCR, constants.StageTranslate}, snap.StagesPlan)

	f.waitState(t, ctx, snap.JobID, constants.JobStateCompleted)
	res, err := f.svc.GetResult(ctx, snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Scanned text.", "ru:Scanned text."}, res.Outputs())

	stored := filepath.Join(f.uploads, snap.JobID+"-notes.txt")
	assert.FileExists(t, stored, "file name is reduced to its base")

	require.NoError(t, f.svc.DeleteJob(ctx, snap.JobID))
	assert.NoFileExists(t, stored)
	_, err = f.svc.GetProgress(ctx, snap.JobID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUploadOCRRejectsBadUploads(t *testing.T) {
	f := newFixture(t)
	ctx := as("alice")

	_, err := f.svc.UploadOCR(ctx, UploadOCRParams{Upload: Upload{FileName: "a.docx", Content: []byte("x")}, SourceLanguage: "en"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.UploadOCR(ctx, UploadOCRParams{Upload: Upload{FileName: "a.txt", Content: make([]byte, 2048)}, SourceLanguage: "en"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.UploadOCR(ctx, UploadOCRParams{Upload: Upload{FileName: "gone.pdf"}, SourceLanguage: "en"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.UploadOCR(ctx, UploadOCRParams{Upload: Upload{FileName: "a.txt", Content: []byte("x")}, SourceLanguage: "en", AutoTranslate: true})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestTranslateFromOCRJob(t *testing.T) {
	f := newFixture(t)
	alice := as("alice")

	ocr, err := f.svc.UploadOCR(alice, UploadOCRParams{Upload: Upload{FileName: "page.txt", Content: []byte("Guten Tag.")}, SourceLanguage: "de"})
	require.NoError(t, err)
	assert.Equal(t, []constants.StageKind{constants.StageOCR}, ocr.StagesPlan)
	f.waitState(t, alice, ocr.JobID, constants.JobStateCompleted)

	_, err = f.svc.StartTranslation(as("bob"), StartTranslationParams{SourceLanguage: "de", TargetLanguage: "en", SourceJobID: ocr.JobID})
	assert.ErrorIs(t, err, common.ErrForbidden)

	tr, err := f.svc.StartTranslation(alice, StartTranslationParams{SourceLanguage: "de", TargetLanguage: "en", SourceJobID: ocr.JobID})
	require.NoError(t, err)
	f.waitState(t, alice, tr.JobID, constants.JobStateCompleted)
	res, err := f.svc.GetResult(alice, tr.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"en:Guten Tag."}, res.Outputs())

	job, err := f.store.Get(context.Background(), tr.JobID)
	require.NoError(t, err)
	assert.Equal(t, ocr.JobID, job.Input.SourceJobID)
}

func TestControlOperations(t *testing.T) {
	f := newFixture(t)
	f.gate = make(chan struct{})
	ctx := as("alice")

	snap, err := f.svc.StartTranslation(ctx, StartTranslationParams{SourceLanguage: "en", TargetLanguage: "zh", Text: "Slow."})
	require.NoError(t, err)
	id := snap.JobID

	_, err = f.svc.GetResult(ctx, id)
	assert.ErrorIs(t, err, common.ErrNotReady)

	_, err = f.svc.PauseTranslation(as("mallory"), id)
	assert.ErrorIs(t, err, common.ErrForbidden)

	s, err := f.svc.PauseTranslation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatePaused, s.State)

	_, err = f.svc.PauseTranslation(ctx, id)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	assert.ErrorIs(t, f.svc.DeleteJob(ctx, id), common.ErrAlreadyRunning)

	s, err = f.svc.ResumeTranslation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRunning, s.State)

	s, err = f.svc.StopTranslation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateStopped, s.State)

	_, err = f.svc.StopTranslation(ctx, id)
	assert.ErrorIs(t, err, common.ErrNotRunning)

	close(f.gate)
	s, err = f.svc.StartJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Run)
	f.waitState(t, ctx, id, constants.JobStateCompleted)

	system := common.WithPrincipal(context.Background(), common.Principal{System: true})
	_, err = f.svc.GetProgress(system, id)
	assert.NoError(t, err)
}

func TestServerPathsOnlyFromSystemPrincipals(t *testing.T) {
	f := newFixture(t)
	inbox := t.TempDir()
	WithServerPaths(inbox)(f.svc)

	secret := filepath.Join(t.TempDir(), "server-secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("DB_PASSWORD=hunter2"), 0o600))
	scan := filepath.Join(inbox, "scan.txt")
	require.NoError(t, os.WriteFile(scan, []byte("Inbox page."), 0o644))

	for _, path := range []string{secret, scan} {
		_, err := f.svc.UploadOCR(as("mallory"), UploadOCRParams{Upload: Upload{Path: path}, SourceLanguage: "en"})
		assert.ErrorIs(t, err, common.ErrInvalidInput, path)
		_, err = f.svc.StartTranslation(as("mallory"), StartTranslationParams{SourceLanguage: "en", TargetLanguage: "de", Upload: &Upload{Path: path}})
		assert.ErrorIs(t, err, common.ErrInvalidInput, path)
	}
	_, err := f.store.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, common.ErrNotFound, "rejected uploads create no job")

	system := common.WithPrincipal(context.Background(), common.Principal{UserID: "inbox", System: true})
	_, err = f.svc.UploadOCR(system, UploadOCRParams{Upload: Upload{Path: secret}, SourceLanguage: "en"})
	assert.ErrorIs(t, err, common.ErrInvalidInput, "outside the ingest directories")
	_, err = f.svc.UploadOCR(system, UploadOCRParams{Upload: Upload{Path: filepath.Join(inbox, "..", filepath.Base(inbox), "..", "x.txt")}, SourceLanguage: "en"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	snap, err := f.svc.UploadOCR(system, UploadOCRParams{Upload: Upload{Path: scan}, SourceLanguage: "en"})
	require.NoError(t, err)
	f.waitState(t, system, snap.JobID, constants.JobStateCompleted)
	res, err := f.svc.GetResult(system, snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Inbox page."}, res.Outputs())

	job, err := f.store.Get(context.Background(), snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, "inbox", job.OwnerID)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, common.Principal, *entity.Job) error {
	return common.NewAppError(common.CodeForbidden, "nope", common.ErrForbidden)
}

func TestCustomAuthorizer(t *testing.T) {
	f := newFixture(t)
	ctx := as("alice")
	snap, err := f.svc.StartTranslation(ctx, StartTranslationParams{SourceLanguage: "auto", TargetLanguage: "en", Text: "Hallo."})
	require.NoError(t, err)

	f.svc.auth = denyAll{}
	_, err = f.svc.GetProgress(ctx, snap.JobID)
	assert.ErrorIs(t, err, common.ErrForbidden)
	_, err = f.svc.GetProgress(ctx, "")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
