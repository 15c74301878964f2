package translation

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

// Authorizer decides whether the caller may act on a job.
type Authorizer interface {
	Authorize(ctx context.Context, p common.Principal, job *entity.Job) error
}

// OwnerAuthorizer lets a principal act only on jobs it owns. System principals may act on any job.
type OwnerAuthorizer struct{}

func (OwnerAuthorizer) Authorize(_ context.Context, p common.Principal, job *entity.Job) error {
	if p.System || (p.UserID != "" && p.UserID == job.OwnerID) {
		return nil
	}
	return common.NewAppError(common.CodeForbidden, fmt.Sprintf("job %s belongs to another user", job.ID), common.ErrForbidden)
}

func principal(ctx context.Context) (common.Principal, error) {
	p, ok := common.PrincipalFromContext(ctx)
	if !ok {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "missing credentials", common.ErrUnauthorized)
	}
	return p, nil
}
