// Package ingest turns documents dropped into a directory into OCR jobs.
package ingest

import (
	"context"
	"time"

	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath   string
	JobID        string
	Deduplicated bool
	HashHex      string
	SubmittedAt  time.Time
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Submitter creates the OCR job for an accepted file. translation.Service satisfies it.
type Submitter interface {
	UploadOCR(ctx context.Context, req translation.UploadOCRParams) (entity.Snapshot, error)
}
