package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

// Options say on whose behalf and in which languages ingested files are processed.
type Options struct {
	OwnerID        string
	SourceLanguage string
	TargetLanguage string
	AutoTranslate  bool
}

// FSIngestor submits files from the local filesystem, at most once per
// content hash for the lifetime of the process.
type FSIngestor struct {
	submit Submitter
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]string // sha256 hex -> job id
}

func NewFSIngestor(submit Submitter, opts Options, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SourceLanguage == "" {
		opts.SourceLanguage = constants.LanguageAuto
	}
	return &FSIngestor{submit: submit, opts: opts, logger: logger, seen: map[string]string{}}
}

// IngestPath submits a single file as an OCR job.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{SourcePath: path}, fmt.Errorf("abs path: %w", err)
	}
	out := Result{SourcePath: abs}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		i.logger.Warn("ingest.unsupported_extension", "path", abs, "ext", ext)
		return out, common.NewAppError(common.CodeValidation, fmt.Sprintf("unsupported or missing extension: %q", ext), common.ErrInvalidInput)
	}

	sum, err := hashFile(abs)
	if err != nil {
		i.logger.Error("ingest.hash_failed", "path", abs, "error", err)
		return out, err
	}
	out.HashHex = sum

	// held across submission: one job per hash
	i.mu.Lock()
	defer i.mu.Unlock()
	if jobID, ok := i.seen[sum]; ok {
		out.JobID = jobID
		out.Deduplicated = true
		i.logger.Info("ingest.duplicate", "path", abs, "hash", sum, "job_id", jobID)
		return out, nil
	}

	// the inbox is the only caller allowed to hand the service a server path
	ctx = common.WithPrincipal(ctx, common.Principal{UserID: i.opts.OwnerID, System: true})
	snap, err := i.submit.UploadOCR(ctx, translation.UploadOCRParams{
		Upload:         translation.Upload{Path: abs},
		SourceLanguage: i.opts.SourceLanguage,
		TargetLanguage: i.opts.TargetLanguage,
		AutoTranslate:  i.opts.AutoTranslate,
	})
	if err != nil {
		i.logger.Error("ingest.submit_failed", "path", abs, "error", err)
		return out, err
	}
	i.seen[sum] = snap.JobID
	out.JobID = snap.JobID
	out.SubmittedAt = time.Now().UTC()
	i.logger.Info("ingest.submitted", "path", abs, "hash", sum, "job_id", snap.JobID, "plan", snap.StagesPlan)
	return out, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
