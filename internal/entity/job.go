package entity

import (
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
)

// Job is the durable record of one OCR/translation job.
type Job struct {
	ID             string                `json:"id"`
	OwnerID        string                `json:"owner_id"`
	SourceLanguage string                `json:"source_language"`
	TargetLanguage string                `json:"target_language"`
	StagesPlan     []constants.StageKind `json:"stages_plan"`
	Input          JobInput              `json:"input"`

	State             constants.JobState `json:"state"`
	Run               int                `json:"run"`
	CurrentStageIndex int                `json:"current_stage_index"`
	Progress          int                `json:"progress"`
	// Estimate is executor-reported progress past the checkpoint. It is shown
	// while the run lasts and dropped by every transition except pause and resume.
	Estimate   int           `json:"estimate,omitempty"`
	Checkpoint *Checkpoint   `json:"checkpoint,omitempty"`
	Results    []StageResult `json:"results,omitempty"`
	Error      *JobError     `json:"error,omitempty"`

	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobInput is what the first stage of the plan consumes.
type JobInput struct {
	Text        string `json:"text,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	SourceJobID string `json:"source_job_id,omitempty"`
}

// StageResult is the committed output of one completed stage.
type StageResult struct {
	Kind     constants.StageKind `json:"kind"`
	Output   string              `json:"output"`
	Segments []Segment           `json:"segments,omitempty"`
}

// Segment is one unit of stage output: a page for OCR, a sentence pair for translation.
type Segment struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// Checkpoint is the last committed point a stage can resume from.
type Checkpoint struct {
	Cursor  int       `json:"cursor"`
	Total   int       `json:"total"`
	Percent int       `json:"percent"`
	Units   []Segment `json:"units,omitempty"`
}

type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CurrentStage returns the stage at CurrentStageIndex, or "" once the plan is exhausted.
func (j *Job) CurrentStage() constants.StageKind {
	if j.CurrentStageIndex < 0 || j.CurrentStageIndex >= len(j.StagesPlan) {
		return ""
	}
	return j.StagesPlan[j.CurrentStageIndex]
}

// IsLastStage reports whether the current stage is the final one in the plan.
func (j *Job) IsLastStage() bool {
	return j.CurrentStageIndex == len(j.StagesPlan)-1
}

// StageInputText is the text the current stage consumes: the job input for the
// first stage, the previous stage's output afterwards.
func (j *Job) StageInputText() string {
	if j.CurrentStageIndex == 0 || len(j.Results) == 0 {
		return j.Input.Text
	}
	return j.Results[len(j.Results)-1].Output
}

// Clone returns a deep copy safe to mutate.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.StagesPlan = append([]constants.StageKind(nil), j.StagesPlan...)
	if j.Checkpoint != nil {
		c.Checkpoint = j.Checkpoint.Clone()
	}
	if j.Results != nil {
		c.Results = make([]StageResult, len(j.Results))
		for i, r := range j.Results {
			r.Segments = append([]Segment(nil), r.Segments...)
			c.Results[i] = r
		}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (cp *Checkpoint) Clone() *Checkpoint {
	if cp == nil {
		return nil
	}
	c := *cp
	c.Units = append([]Segment(nil), cp.Units...)
	return &c
}
