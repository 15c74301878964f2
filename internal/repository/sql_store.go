package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

const jobsTable = "translation_jobs"

// SQLStore keeps job records in Postgres or SQLite. The full record lives in the
// payload column; state, version and progress are duplicated for querying.
type SQLStore struct {
	db      *sql.DB
	dialect string
	log     *slog.Logger
	closers []io.Closer
}

// NewSQLStore wraps an open database. dialectName is one of ent's dialect names
// (dialect.Postgres or dialect.SQLite). closers run after the database closes.
func NewSQLStore(db *sql.DB, dialectName string, log *slog.Logger, closers ...io.Closer) *SQLStore {
	if log == nil {
		log = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialectName, log: log, closers: closers}
}

func (s *SQLStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

func (s *SQLStore) Create(ctx context.Context, job *entity.Job) error {
	job.Version = 1
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	query, args := s.builder().Insert(jobsTable).
		Columns("id", "owner_id", "state", "version", "run", "stage_index", "progress", "plan", "payload", "created_at_ms", "updated_at_ms").
		Values(job.ID, job.OwnerID, string(job.State), job.Version, job.Run, job.CurrentStageIndex, job.Progress, planColumn(job.StagesPlan),
			string(payload), job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli()).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("job_store.create failed", "job_id", job.ID, "err", err)
		return classify("create job "+job.ID, err)
	}
	s.log.Debug("job_store.created", "job_id", job.ID, "state", job.State)
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*entity.Job, error) {
	query, args := s.builder().Select("payload", "version").
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	var (
		payload string
		version int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("job", id)
	}
	if err != nil {
		s.log.Error("job_store.get failed", "job_id", id, "err", err)
		return nil, classify("get job "+id, err)
	}
	return decodeJob(payload, version)
}

func (s *SQLStore) CompareAndSet(ctx context.Context, id string, expected int64, next *entity.Job) (int64, error) {
	stored := next.Clone()
	stored.ID = id
	stored.Version = expected + 1
	payload, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("encode job %s: %w", id, err)
	}
	query, args := s.builder().Update(jobsTable).
		Set("state", string(stored.State)).
		Set("version", stored.Version).
		Set("run", stored.Run).
		Set("stage_index", stored.CurrentStageIndex).
		Set("progress", stored.Progress).
		Set("plan", planColumn(stored.StagesPlan)).
		Set("payload", string(payload)).
		Set("updated_at_ms", stored.UpdatedAt.UnixMilli()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("version", expected))).
		Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Error("job_store.cas failed", "job_id", id, "expected_version", expected, "err", err)
		return 0, classify("update job "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("update job "+id, err)
	}
	if n == 0 {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return 0, gerr
		}
		return 0, common.StaleWrite(id, expected)
	}
	next.Version = stored.Version
	return stored.Version, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query, args := s.builder().Delete(jobsTable).Where(entsql.EQ("id", id)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Error("job_store.delete failed", "job_id", id, "err", err)
		return classify("delete job "+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NotFound("job", id)
	}
	s.log.Info("job_store.deleted", "job_id", id)
	return nil
}

func (s *SQLStore) ListByState(ctx context.Context, states ...constants.JobState) ([]*entity.Job, error) {
	sel := s.builder().Select("payload", "version").From(entsql.Table(jobsTable))
	if len(states) > 0 {
		vals := make([]any, 0, len(states))
		for _, st := range states {
			vals = append(vals, string(st))
		}
		sel = sel.Where(entsql.In("state", vals...))
	}
	query, args := sel.OrderBy("created_at_ms", "id").Query()
	return s.queryJobs(ctx, query, args)
}

func (s *SQLStore) ListJobs(ctx context.Context, f JobFilter) ([]*entity.Job, int, error) {
	where := func() *entsql.Predicate {
		var ps []*entsql.Predicate
		if f.OwnerID != "" {
			ps = append(ps, entsql.EQ("owner_id", f.OwnerID))
		}
		if f.Stage != "" {
			ps = append(ps, entsql.Contains("plan", ","+string(f.Stage)+","))
		}
		if len(ps) == 0 {
			return nil
		}
		return entsql.And(ps...)
	}

	count := s.builder().Select(entsql.Count("*")).From(entsql.Table(jobsTable))
	if p := where(); p != nil {
		count = count.Where(p)
	}
	query, args := count.Query()
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		s.log.Error("job_store.count failed", "owner_id", f.OwnerID, "err", err)
		return nil, 0, classify("count jobs", err)
	}

	sel := s.builder().Select("payload", "version").From(entsql.Table(jobsTable))
	if p := where(); p != nil {
		sel = sel.Where(p)
	}
	sel = sel.OrderBy(entsql.Desc("created_at_ms"), entsql.Desc("id"))
	if f.Limit > 0 {
		sel = sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel = sel.Offset(f.Offset)
	}
	query, args = sel.Query()
	out, err := s.queryJobs(ctx, query, args)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *SQLStore) queryJobs(ctx context.Context, query string, args []any) ([]*entity.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list jobs", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Warn("job_store.rows_close failed", "err", err)
		}
	}(rows)

	var out []*entity.Job
	for rows.Next() {
		var (
			payload string
			version int64
		)
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, classify("scan job", err)
		}
		j, err := decodeJob(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list jobs", err)
	}
	return out, nil
}

// Migrate applies the embedded schema migrations that have not run yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, s.dialect, s.log)
}

// Ping reports whether the database answers within timeout.
func (s *SQLStore) Ping(ctx context.Context, timeout time.Duration) error {
	return HealthCheck(ctx, s.db, timeout, s.log)
}

func (s *SQLStore) Close() error {
	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// planColumn stores the stage plan as ",OCR,TRANSLATE," so a stage filter is a substring match.
func planColumn(plan []constants.StageKind) string {
	var b strings.Builder
	b.WriteByte(',')
	for _, k := range plan {
		b.WriteString(string(k))
		b.WriteByte(',')
	}
	return b.String()
}

func decodeJob(payload string, version int64) (*entity.Job, error) {
	var j entity.Job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	j.Version = version
	return &j, nil
}
