package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type langRequest struct {
	Source string `validate:"required,srclang"`
	Target string `validate:"required,lang,nefield=Source"`
}

func TestValidateStructLanguages(t *testing.T) {
	require.NoError(t, ValidateStruct(langRequest{Source: "auto", Target: "en"}))
	require.NoError(t, ValidateStruct(langRequest{Source: "zh", Target: "de"}))

	err := ValidateStruct(langRequest{Source: "xx", Target: "auto"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Source must be one of auto, en, de, ru, zh")
	assert.Contains(t, err.Error(), "Target must be one of en, de, ru, zh")

	err = ValidateStruct(langRequest{Source: "en", Target: "en"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "must differ from Source")
}

func TestPrincipalFromContext(t *testing.T) {
	ctx := t.Context()
	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok)

	ctx = WithPrincipal(ctx, Principal{UserID: "u-1"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", p.UserID)

	_, ok = PrincipalFromContext(WithPrincipal(ctx, Principal{}))
	assert.False(t, ok)
	assert.Equal(t, "r-9", RequestIDFromContext(WithRequestID(ctx, "r-9")))
}
