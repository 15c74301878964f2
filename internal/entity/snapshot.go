package entity

import (
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
)

// Snapshot is the polling view of a job.
type Snapshot struct {
	JobID             string                `json:"job_id"`
	State             constants.JobState    `json:"state"`
	Run               int                   `json:"run"`
	StagesPlan        []constants.StageKind `json:"stages_plan"`
	CurrentStageIndex int                   `json:"current_stage_index"`
	CurrentStage      constants.StageKind   `json:"current_stage,omitempty"`
	Progress          int                   `json:"progress"`
	Current           int                   `json:"current"`
	Total             int                   `json:"total"`
	CompletedStages   int                   `json:"completed_stages"`
	Error             *JobError             `json:"error,omitempty"`
	Version           int64                 `json:"version"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// Summary is the listing view of a job.
type Summary struct {
	Snapshot
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	FileName       string    `json:"file_name,omitempty"`
	SourceJobID    string    `json:"source_job_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Result is the output of a completed job.
type Result struct {
	JobID          string        `json:"job_id"`
	SourceLanguage string        `json:"source_language"`
	TargetLanguage string        `json:"target_language"`
	Stages         []StageResult `json:"stages"`
}

// Snapshot projects the record onto its polling view.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		JobID:             j.ID,
		State:             j.State,
		Run:               j.Run,
		StagesPlan:        append([]constants.StageKind(nil), j.StagesPlan...),
		CurrentStageIndex: j.CurrentStageIndex,
		CurrentStage:      j.CurrentStage(),
		Progress:          max(j.Progress, j.Estimate),
		CompletedStages:   len(j.Results),
		Version:           j.Version,
		UpdatedAt:         j.UpdatedAt,
	}
	if j.Checkpoint != nil {
		s.Current = j.Checkpoint.Cursor
		s.Total = j.Checkpoint.Total
	}
	if j.Error != nil {
		e := *j.Error
		s.Error = &e
	}
	return s
}

// Summary adds the job's inputs to its snapshot.
func (j *Job) Summary() Summary {
	return Summary{
		Snapshot:       j.Snapshot(),
		SourceLanguage: j.SourceLanguage,
		TargetLanguage: j.TargetLanguage,
		FileName:       j.Input.FileName,
		SourceJobID:    j.Input.SourceJobID,
		CreatedAt:      j.CreatedAt,
	}
}

// Result returns the accumulated stage outputs.
func (j *Job) Result() Result {
	c := j.Clone()
	return Result{
		JobID:          j.ID,
		SourceLanguage: j.SourceLanguage,
		TargetLanguage: j.TargetLanguage,
		Stages:         c.Results,
	}
}

// Outputs lists each completed stage's output text in plan order.
func (r Result) Outputs() []string {
	out := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.Output)
	}
	return out
}
