package ingest

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/doc-translator/internal/common"
)

// Inbox watches a directory and submits every accepted file as an OCR job.
type Inbox struct {
	dir      string
	debounce time.Duration
	ingestor *FSIngestor
	logger   *slog.Logger
}

func NewInbox(dir string, debounce time.Duration, ingestor *FSIngestor, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{dir: dir, debounce: debounce, ingestor: ingestor, logger: logger}
}

// NewInboxFromConfig builds the inbox described by the ingest config section.
func NewInboxFromConfig(cfg common.IngestConfig, submit Submitter, logger *slog.Logger) *Inbox {
	ing := NewFSIngestor(submit, Options{
		OwnerID:        cfg.OwnerID,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		AutoTranslate:  cfg.AutoTranslate,
	}, logger)
	return NewInbox(cfg.InboxDir, cfg.Debounce, ing, logger)
}

// Run submits files already in the inbox, then new ones as they appear, until
// ctx is done. Per-file failures are logged and do not stop the inbox.
func (b *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	events, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{b.dir},
		InitialScan: true,
		SkipHidden:  true,
		Debounce:    b.debounce,
	}, b.logger)
	if err != nil {
		return err
	}
	b.logger.Info("ingest.inbox.started", "dir", b.dir, "debounce", b.debounce)

	for {
		select {
		case path, ok := <-events:
			if !ok {
				b.logger.Info("ingest.inbox.stopped", "dir", b.dir)
				return nil
			}
			if _, err := b.ingestor.IngestPath(ctx, path); err != nil && ctx.Err() == nil {
				b.logger.Warn("ingest.inbox.file_failed", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if ok {
				b.logger.Warn("ingest.inbox.watch_error", "error", err)
			} else {
				errs = nil
			}
		}
	}
}
