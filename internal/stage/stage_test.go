package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 0))
	assert.Equal(t, 40, Percent(4, 10))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 100, Percent(12, 10))
}

func TestResumed(t *testing.T) {
	n, units := Resumed(nil)
	assert.Zero(t, n)
	assert.Empty(t, units)

	cp := &entity.Checkpoint{Cursor: 2, Units: []entity.Segment{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
	n, units = Resumed(cp)
	assert.Equal(t, 2, n)
	assert.Equal(t, []entity.Segment{{Text: "a"}, {Text: "b"}}, units)
}

func TestRegistryLookup(t *testing.T) {
	called := false
	reg := Registry{constants.StageOCR: ExecutorFunc(func(context.Context, Input, Reporter) (Output, error) {
		called = true
		return Output{Text: "X"}, nil
	})}
	ex, err := reg.Lookup(constants.StageOCR)
	require.NoError(t, err)
	out, err := ex.Execute(context.Background(), Input{}, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "X", out.Text)

	_, err = reg.Lookup(constants.StageTranslate)
	require.Error(t, err)
}
