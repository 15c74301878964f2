package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
)

func TestCloneIsDeep(t *testing.T) {
	j := &Job{
		ID:         "j1",
		StagesPlan: []constants.StageKind{constants.StageOCR, constants.StageTranslate},
		Checkpoint: &Checkpoint{Cursor: 1, Total: 2, Percent: 50, Units: []Segment{{Text: "page 1"}}},
		Results:    []StageResult{{Kind: constants.StageOCR, Output: "X", Segments: []Segment{{Text: "X"}}}},
		Error:      &JobError{Code: "E", Message: "m"},
	}
	c := j.Clone()
	c.StagesPlan[0] = constants.StageTranslate
	c.Checkpoint.Units[0].Text = "changed"
	c.Results[0].Segments[0].Text = "changed"
	c.Error.Message = "changed"

	assert.Equal(t, constants.StageOCR, j.StagesPlan[0])
	assert.Equal(t, "page 1", j.Checkpoint.Units[0].Text)
	assert.Equal(t, "X", j.Results[0].Segments[0].Text)
	assert.Equal(t, "m", j.Error.Message)
}

func TestStageInputText(t *testing.T) {
	j := &Job{
		Input:      JobInput{Text: "source"},
		StagesPlan: []constants.StageKind{constants.StageOCR, constants.StageTranslate},
	}
	assert.Equal(t, "source", j.StageInputText())
	assert.False(t, j.IsLastStage())

	j.Results = append(j.Results, StageResult{Kind: constants.StageOCR, Output: "ocr text"})
	j.CurrentStageIndex = 1
	assert.Equal(t, "ocr text", j.StageInputText())
	assert.True(t, j.IsLastStage())
	assert.Equal(t, constants.StageTranslate, j.CurrentStage())

	j.CurrentStageIndex = 2
	assert.Equal(t, constants.StageKind(""), j.CurrentStage())
}

func TestSnapshotAndResult(t *testing.T) {
	j := &Job{
		ID:         "j2",
		State:      constants.JobStateRunning,
		StagesPlan: []constants.StageKind{constants.StageTranslate},
		Progress:   40,
		Checkpoint: &Checkpoint{Cursor: 4, Total: 10, Percent: 40},
		Version:    7,
	}
	s := j.Snapshot()
	assert.Equal(t, 40, s.Progress)
	assert.Equal(t, 4, s.Current)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, constants.StageTranslate, s.CurrentStage)
	assert.EqualValues(t, 7, s.Version)

	j.Results = []StageResult{{Kind: constants.StageOCR, Output: "X"}, {Kind: constants.StageTranslate, Output: "Y"}}
	r := j.Result()
	require.Len(t, r.Stages, 2)
	assert.Equal(t, []string{"X", "Y"}, r.Outputs())
}
