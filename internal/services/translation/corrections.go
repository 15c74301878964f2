package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
)

// AddCorrectionParams records the caller's preferred translation of one sentence.
type AddCorrectionParams struct {
	SourceLanguage string `validate:"required,lang"`
	TargetLanguage string `validate:"required,lang,nefield=SourceLanguage"`
	SourceText     string `validate:"required"`
	Translation    string `validate:"required"`
	// JobID optionally names the job whose output is being corrected.
	JobID string
}

// ListCorrectionsParams filters the caller's corrections by language pair.
type ListCorrectionsParams struct {
	SourceLanguage string `validate:"omitempty,lang"`
	TargetLanguage string `validate:"omitempty,lang"`
	Page           int    `validate:"gte=0"`
	PageSize       int    `validate:"gte=0,lte=100"`
}

// CorrectionPage is one page of corrections, newest first.
type CorrectionPage struct {
	Items    []entity.Correction
	Total    int
	Page     int
	PageSize int
}

// AddCorrection stores a correction. Later translate runs of the same owner
// reuse it for that sentence and show it to the model as an example.
func (s *Service) AddCorrection(ctx context.Context, req AddCorrectionParams) (entity.Correction, error) {
	p, err := principal(ctx)
	if err != nil {
		return entity.Correction{}, err
	}
	req.SourceText = strings.TrimSpace(req.SourceText)
	req.Translation = strings.TrimSpace(req.Translation)
	if err := common.ValidateStruct(req); err != nil {
		return entity.Correction{}, err
	}
	store, err := s.correctionStore()
	if err != nil {
		return entity.Correction{}, err
	}
	if req.JobID != "" {
		if _, err := s.authorized(ctx, req.JobID); err != nil {
			return entity.Correction{}, err
		}
	}

	c := entity.Correction{
		ID:             s.newID(),
		OwnerID:        p.UserID,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		SourceText:     req.SourceText,
		Translation:    req.Translation,
		JobID:          req.JobID,
		CreatedAt:      s.now(),
	}
	if err := store.AddCorrection(ctx, &c); err != nil {
		s.logger.Error("translation.correction.add failed", "owner_id", p.UserID, "error", err)
		return entity.Correction{}, err
	}
	s.logger.Info("translation.correction.added", "correction_id", c.ID, "owner_id", c.OwnerID,
		"source", c.SourceLanguage, "target", c.TargetLanguage, "job_id", c.JobID)
	return c, nil
}

// ListCorrections lists the caller's corrections. System principals see every owner's.
func (s *Service) ListCorrections(ctx context.Context, req ListCorrectionsParams) (CorrectionPage, error) {
	p, err := principal(ctx)
	if err != nil {
		return CorrectionPage{}, err
	}
	if err := common.ValidateStruct(req); err != nil {
		return CorrectionPage{}, err
	}
	store, err := s.correctionStore()
	if err != nil {
		return CorrectionPage{}, err
	}
	owner, err := listOwner(p)
	if err != nil {
		return CorrectionPage{}, err
	}
	page, size := paging(req.Page, req.PageSize)

	found, total, err := store.ListCorrections(ctx, repository.CorrectionFilter{
		OwnerID:        owner,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		Offset:         (page - 1) * size,
		Limit:          size,
	})
	if err != nil {
		return CorrectionPage{}, err
	}
	out := CorrectionPage{Items: make([]entity.Correction, 0, len(found)), Total: total, Page: page, PageSize: size}
	for _, c := range found {
		out.Items = append(out.Items, *c)
	}
	return out, nil
}

// DeleteCorrection removes one of the caller's corrections.
func (s *Service) DeleteCorrection(ctx context.Context, id string) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return common.NewAppError(common.CodeValidation, "correction id is required", common.ErrInvalidInput)
	}
	store, err := s.correctionStore()
	if err != nil {
		return err
	}
	c, err := store.GetCorrection(ctx, id)
	if err != nil {
		return err
	}
	if !p.System && c.OwnerID != p.UserID {
		return common.NewAppError(common.CodeForbidden, fmt.Sprintf("correction %s belongs to another user", id), common.ErrForbidden)
	}
	if err := store.DeleteCorrection(ctx, id); err != nil {
		return err
	}
	s.logger.Info("translation.correction.deleted", "correction_id", id)
	return nil
}

func (s *Service) correctionStore() (repository.CorrectionStore, error) {
	if s.corrections == nil {
		return nil, common.StoreUnavailable("corrections", errors.New("no correction store configured"))
	}
	return s.corrections, nil
}
