package translation

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListJobsParams pages through the caller's jobs. Page is 1-based; zero
// values select the first page of defaultPageSize.
type ListJobsParams struct {
	Page     int `validate:"gte=0"`
	PageSize int `validate:"gte=0,lte=100"`
	// Kind keeps jobs whose plan includes that stage.
	Kind string `validate:"omitempty,oneof=OCR TRANSLATE"`
}

// JobPage is one page of job summaries, newest first.
type JobPage struct {
	Items    []entity.Summary
	Total    int
	Page     int
	PageSize int
}

// ListJobs lists the caller's jobs. System principals see every owner's jobs.
func (s *Service) ListJobs(ctx context.Context, req ListJobsParams) (JobPage, error) {
	p, err := principal(ctx)
	if err != nil {
		return JobPage{}, err
	}
	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	if err := common.ValidateStruct(req); err != nil {
		return JobPage{}, err
	}
	owner, err := listOwner(p)
	if err != nil {
		return JobPage{}, err
	}
	page, size := paging(req.Page, req.PageSize)

	found, total, err := s.store.ListJobs(ctx, repository.JobFilter{
		OwnerID: owner,
		Stage:   constants.StageKind(req.Kind),
		Offset:  (page - 1) * size,
		Limit:   size,
	})
	if err != nil {
		s.logger.Error("translation.list failed", "owner_id", owner, "error", err)
		return JobPage{}, err
	}
	out := JobPage{Items: make([]entity.Summary, 0, len(found)), Total: total, Page: page, PageSize: size}
	for _, j := range found {
		out.Items = append(out.Items, j.Summary())
	}
	s.logger.Debug("translation.list", "owner_id", owner, "kind", req.Kind, "page", page, "returned", len(out.Items), "total", total)
	return out, nil
}

// listOwner is the owner filter for p; empty means every owner.
func listOwner(p common.Principal) (string, error) {
	if p.System {
		return "", nil
	}
	if p.UserID == "" {
		return "", common.NewAppError(common.CodeUnauthorized, "missing user id", common.ErrUnauthorized)
	}
	return p.UserID, nil
}

func paging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	return page, min(size, maxPageSize)
}
