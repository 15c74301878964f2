package constants

// JobState is the canonical state of a translation job (store these exact strings in DB).
type JobState string

const (
	JobStateCreated   JobState = "CREATED"
	JobStateRunning   JobState = "RUNNING"
	JobStatePaused    JobState = "PAUSED"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateStopped   JobState = "STOPPED"
)

// IsTerminal reports whether no further run of the job will happen on its own.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// IsActive reports whether a worker is expected to own the job.
func (s JobState) IsActive() bool {
	return s == JobStateRunning || s == JobStatePaused
}

func (s JobState) String() string { return string(s) }

// StageKind names one step of a job's stage plan.
type StageKind string

const (
	StageOCR       StageKind = "OCR"
	StageTranslate StageKind = "TRANSLATE"
)

func (k StageKind) String() string { return string(k) }
