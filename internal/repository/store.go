package repository

import (
	"context"
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

// JobStore is durable keyed storage for job records. Every write other than
// Create is a compare-and-set on the record version.
type JobStore interface {
	// Create stores a new record at version 1 and sets job.Version accordingly.
	Create(ctx context.Context, job *entity.Job) error
	// Get returns a private copy of the record, including its version.
	Get(ctx context.Context, id string) (*entity.Job, error)
	// CompareAndSet replaces the record iff its stored version equals expected and
	// returns the new version. A mismatch fails with common.ErrStaleWrite and
	// leaves the record untouched.
	CompareAndSet(ctx context.Context, id string, expected int64, next *entity.Job) (int64, error)
	Delete(ctx context.Context, id string) error
	// ListByState returns records in any of the given states, oldest first.
	ListByState(ctx context.Context, states ...constants.JobState) ([]*entity.Job, error)
	// ListJobs returns one page of records matching f, newest first, and the
	// number of matching records.
	ListJobs(ctx context.Context, f JobFilter) ([]*entity.Job, int, error)
	Close() error
}

// JobFilter selects records for ListJobs. Zero fields match everything;
// Limit <= 0 means no limit.
type JobFilter struct {
	OwnerID string
	// Stage matches jobs whose plan contains the stage.
	Stage  constants.StageKind
	Offset int
	Limit  int
}

// CorrectionStore keeps users' corrected translations.
type CorrectionStore interface {
	AddCorrection(ctx context.Context, c *entity.Correction) error
	GetCorrection(ctx context.Context, id string) (*entity.Correction, error)
	// ListCorrections returns one page of corrections matching f and the number of matches.
	ListCorrections(ctx context.Context, f CorrectionFilter) ([]*entity.Correction, int, error)
	DeleteCorrection(ctx context.Context, id string) error
	// TouchCorrection counts one more use of the correction at the given time.
	TouchCorrection(ctx context.Context, id string, at time.Time) error
}

// CorrectionFilter selects corrections. Results are newest first, or most
// recently used first when RecentlyUsed is set.
type CorrectionFilter struct {
	OwnerID        string
	SourceLanguage string
	TargetLanguage string
	RecentlyUsed   bool
	Offset         int
	Limit          int
}

// Store is everything the service persists.
type Store interface {
	JobStore
	CorrectionStore
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
