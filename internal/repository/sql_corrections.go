package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

const correctionsTable = "translation_corrections"

var correctionColumns = []string{
	"id", "owner_id", "source_language", "target_language", "source_text", "translation",
	"job_id", "usage_count", "created_at_ms", "last_used_at_ms",
}

func (s *SQLStore) AddCorrection(ctx context.Context, c *entity.Correction) error {
	query, args := s.builder().Insert(correctionsTable).
		Columns(correctionColumns...).
		Values(c.ID, c.OwnerID, c.SourceLanguage, c.TargetLanguage, c.SourceText, c.Translation,
			c.JobID, c.UsageCount, c.CreatedAt.UnixMilli(), millis(c.LastUsedAt)).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.log.Error("correction_store.create failed", "correction_id", c.ID, "err", err)
		return classify("create correction "+c.ID, err)
	}
	s.log.Debug("correction_store.created", "correction_id", c.ID, "owner_id", c.OwnerID)
	return nil
}

func (s *SQLStore) GetCorrection(ctx context.Context, id string) (*entity.Correction, error) {
	query, args := s.builder().Select(correctionColumns...).
		From(entsql.Table(correctionsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	c, err := scanCorrection(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("correction", id)
	}
	if err != nil {
		return nil, classify("get correction "+id, err)
	}
	return c, nil
}

func (s *SQLStore) ListCorrections(ctx context.Context, f CorrectionFilter) ([]*entity.Correction, int, error) {
	where := func() *entsql.Predicate {
		var ps []*entsql.Predicate
		if f.OwnerID != "" {
			ps = append(ps, entsql.EQ("owner_id", f.OwnerID))
		}
		if f.SourceLanguage != "" {
			ps = append(ps, entsql.EQ("source_language", f.SourceLanguage))
		}
		if f.TargetLanguage != "" {
			ps = append(ps, entsql.EQ("target_language", f.TargetLanguage))
		}
		if len(ps) == 0 {
			return nil
		}
		return entsql.And(ps...)
	}

	count := s.builder().Select(entsql.Count("*")).From(entsql.Table(correctionsTable))
	if p := where(); p != nil {
		count = count.Where(p)
	}
	query, args := count.Query()
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, classify("count corrections", err)
	}

	sel := s.builder().Select(correctionColumns...).From(entsql.Table(correctionsTable))
	if p := where(); p != nil {
		sel = sel.Where(p)
	}
	if f.RecentlyUsed {
		sel = sel.OrderBy(entsql.Desc("last_used_at_ms"))
	}
	sel = sel.OrderBy(entsql.Desc("created_at_ms"), entsql.Desc("id"))
	if f.Limit > 0 {
		sel = sel.Limit(f.Limit)
	}
	if f.Offset > 0 {
		sel = sel.Offset(f.Offset)
	}
	query, args = sel.Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("list corrections", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.log.Warn("correction_store.rows_close failed", "err", err)
		}
	}(rows)

	var out []*entity.Correction
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, 0, classify("scan correction", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list corrections", err)
	}
	return out, total, nil
}

func (s *SQLStore) DeleteCorrection(ctx context.Context, id string) error {
	query, args := s.builder().Delete(correctionsTable).Where(entsql.EQ("id", id)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Error("correction_store.delete failed", "correction_id", id, "err", err)
		return classify("delete correction "+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NotFound("correction", id)
	}
	return nil
}

func (s *SQLStore) TouchCorrection(ctx context.Context, id string, at time.Time) error {
	query, args := s.builder().Update(correctionsTable).
		Add("usage_count", 1).
		Set("last_used_at_ms", at.UnixMilli()).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("touch correction "+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NotFound("correction", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorrection(row rowScanner) (*entity.Correction, error) {
	var (
		c             entity.Correction
		created, used int64
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.SourceLanguage, &c.TargetLanguage, &c.SourceText, &c.Translation,
		&c.JobID, &c.UsageCount, &created, &used); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	if used > 0 {
		t := time.UnixMilli(used).UTC()
		c.LastUsedAt = &t
	}
	return &c, nil
}

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
