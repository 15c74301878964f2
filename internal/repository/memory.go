package repository

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

// MemoryStore keeps job records and corrections in process memory. Nothing
// survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]*entity.Job
	corrections map[string]*entity.Correction
	log         *slog.Logger
}

func NewMemoryStore(log *slog.Logger) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryStore{
		jobs:        make(map[string]*entity.Job),
		corrections: make(map[string]*entity.Correction),
		log:         log,
	}
}

func (s *MemoryStore) Create(_ context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return common.NewAppError(common.CodeAlreadyExists, "job "+job.ID, common.ErrAlreadyExists)
	}
	job.Version = 1
	s.jobs[job.ID] = job.Clone()
	s.log.Debug("job_store.created", "job_id", job.ID, "state", job.State)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*entity.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, common.NotFound("job", id)
	}
	return j.Clone(), nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, id string, expected int64, next *entity.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[id]
	if !ok {
		return 0, common.NotFound("job", id)
	}
	if cur.Version != expected {
		return 0, common.StaleWrite(id, expected)
	}
	stored := next.Clone()
	stored.ID = id
	stored.Version = expected + 1
	s.jobs[id] = stored
	next.Version = stored.Version
	return stored.Version, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return common.NotFound("job", id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) ListByState(_ context.Context, states ...constants.JobState) ([]*entity.Job, error) {
	want := make(map[constants.JobState]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}
	s.mu.RLock()
	out := make([]*entity.Job, 0)
	for _, j := range s.jobs {
		if _, ok := want[j.State]; ok || len(want) == 0 {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, f JobFilter) ([]*entity.Job, int, error) {
	s.mu.RLock()
	var out []*entity.Job
	for _, j := range s.jobs {
		if f.OwnerID != "" && j.OwnerID != f.OwnerID {
			continue
		}
		if f.Stage != "" && !slices.Contains(j.StagesPlan, f.Stage) {
			continue
		}
		out = append(out, j.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func (s *MemoryStore) AddCorrection(_ context.Context, c *entity.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corrections[c.ID]; ok {
		return common.NewAppError(common.CodeAlreadyExists, "correction "+c.ID, common.ErrAlreadyExists)
	}
	s.corrections[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) GetCorrection(_ context.Context, id string) (*entity.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.corrections[id]
	if !ok {
		return nil, common.NotFound("correction", id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ListCorrections(_ context.Context, f CorrectionFilter) ([]*entity.Correction, int, error) {
	s.mu.RLock()
	var out []*entity.Correction
	for _, c := range s.corrections {
		if (f.OwnerID != "" && c.OwnerID != f.OwnerID) ||
			(f.SourceLanguage != "" && c.SourceLanguage != f.SourceLanguage) ||
			(f.TargetLanguage != "" && c.TargetLanguage != f.TargetLanguage) {
			continue
		}
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if f.RecentlyUsed {
			ua, ub := lastUsed(out[a]), lastUsed(out[b])
			if !ua.Equal(ub) {
				return ua.After(ub)
			}
		}
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), len(out), nil
}

func (s *MemoryStore) DeleteCorrection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corrections[id]; !ok {
		return common.NotFound("correction", id)
	}
	delete(s.corrections, id)
	return nil
}

func (s *MemoryStore) TouchCorrection(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.corrections[id]
	if !ok {
		return common.NotFound("correction", id)
	}
	c.UsageCount++
	at = at.UTC()
	c.LastUsedAt = &at
	return nil
}

func lastUsed(c *entity.Correction) time.Time {
	if c.LastUsedAt == nil {
		return time.Time{}
	}
	return *c.LastUsedAt
}

func (s *MemoryStore) Close() error { return nil }
