package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []translation.UploadOCRParams
	users  []string
	system []bool
	fail   bool
}

func (f *fakeSubmitter) UploadOCR(ctx context.Context, req translation.UploadOCRParams) (entity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return entity.Snapshot{}, errors.New("store down")
	}
	p, _ := common.PrincipalFromContext(ctx)
	f.users = append(f.users, p.UserID)
	f.system = append(f.system, p.System)
	f.calls = append(f.calls, req)
	return entity.Snapshot{JobID: "job-" + strconv.Itoa(len(f.calls))}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIngestPathDeduplicatesByContent(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	ing := NewFSIngestor(sub, Options{OwnerID: "inbox-user", TargetLanguage: "en", AutoTranslate: true}, quiet())
	ctx := context.Background()

	r1, err := ing.IngestPath(ctx, write(t, dir, "a.pdf", "%PDF-1"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", r1.JobID)
	assert.False(t, r1.Deduplicated)
	assert.Len(t, r1.HashHex, 64)

	r2, err := ing.IngestPath(ctx, write(t, dir, "copy.pdf", "%PDF-1"))
	require.NoError(t, err)
	assert.True(t, r2.Deduplicated)
	assert.Equal(t, "job-1", r2.JobID)
	assert.Equal(t, 1, sub.count())

	req := sub.calls[0]
	assert.Equal(t, "auto", req.SourceLanguage)
	assert.Equal(t, "en", req.TargetLanguage)
	assert.True(t, req.AutoTranslate)
	assert.True(t, filepath.IsAbs(req.Upload.Path))
	assert.Equal(t, []string{"inbox-user"}, sub.users)
	assert.Equal(t, []bool{true}, sub.system)

	_, err = ing.IngestPath(ctx, write(t, dir, "sheet.xlsx", "x"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestIngestPathRetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{fail: true}
	ing := NewFSIngestor(sub, Options{OwnerID: "u"}, quiet())
	path := write(t, dir, "scan.png", "png")

	_, err := ing.IngestPath(context.Background(), path)
	require.Error(t, err)

	sub.fail = false
	r, err := ing.IngestPath(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, r.Deduplicated, "a failed submission is not remembered")
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, root, "one.pdf", "1")
	write(t, root, "nested/two.jpg", "2")
	write(t, root, "nested/dup.jpg", "2")
	write(t, root, "notes.docx", "x")
	write(t, root, ".hidden/three.png", "3")

	sub := &fakeSubmitter{}
	ing := NewFSIngestor(sub, Options{OwnerID: "u"}, quiet())
	results, stats, err := ing.IngestDirectory(context.Background(), root, true)
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Matched)
	assert.EqualValues(t, 3, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Deduplicated)
	assert.EqualValues(t, 0, stats.Failed)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, sub.count())

	_, _, err = ing.IngestDirectory(context.Background(), " ", true)
	assert.Error(t, err)
}

func TestInboxSubmitsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "early.txt", "already here")

	sub := &fakeSubmitter{}
	inbox := NewInboxFromConfig(common.IngestConfig{
		InboxDir:       dir,
		OwnerID:        "u",
		SourceLanguage: "de",
		Debounce:       20 * time.Millisecond,
	}, sub, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Run(ctx) }()

	require.Eventually(t, func() bool { return sub.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	write(t, dir, "late.pdf", "new document")
	require.Eventually(t, func() bool { return sub.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	write(t, dir, "late-copy.pdf", "new document")
	write(t, dir, ".partial.pdf", "ignored")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, sub.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("inbox did not stop")
	}
}
