// Package stage defines the contract between the job engine and the code that
// performs one processing step (OCR extraction or translation).
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
)

// ErrSuspended is returned by Reporter.Checkpoint once the job has been paused.
// The executor should return; it is invoked again from the last checkpoint on resume.
var ErrSuspended = errors.New("stage suspended")

// Input is everything an executor needs to run (or continue) one stage.
type Input struct {
	JobID          string
	OwnerID        string
	Kind           constants.StageKind
	SourceLanguage string
	TargetLanguage string
	// Text is the previous stage's output, or the job's raw text for the first stage.
	Text     string
	FilePath string
	// Resume is the last committed checkpoint of this stage, nil on a fresh start.
	Resume *entity.Checkpoint
}

// Output is the result of a successful stage.
type Output struct {
	Text     string
	Segments []entity.Segment
}

// Reporter receives progress from a running executor.
type Reporter interface {
	// Progress records an advisory percentage in [0,100]. It is not committed.
	Progress(percent int)
	// Checkpoint offers a resumable point. It returns ErrSuspended after a pause
	// and the context error once the run has been stopped.
	Checkpoint(cp entity.Checkpoint) error
}

// Executor performs one stage. ctx is cancelled on stop and on stage timeout.
type Executor interface {
	Execute(ctx context.Context, in Input, r Reporter) (Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, in Input, r Reporter) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, in Input, r Reporter) (Output, error) {
	return f(ctx, in, r)
}

// Registry maps stage kinds to their executors.
type Registry map[constants.StageKind]Executor

// Lookup returns the executor for kind.
func (r Registry) Lookup(kind constants.StageKind) (Executor, error) {
	if ex, ok := r[kind]; ok && ex != nil {
		return ex, nil
	}
	return nil, fmt.Errorf("no executor registered for stage %s", kind)
}

// Percent converts a unit cursor into a percentage, clamped to [0,100].
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := done * 100 / total
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Resumed returns the units already committed in cp, or an empty slice.
func Resumed(cp *entity.Checkpoint) (int, []entity.Segment) {
	if cp == nil {
		return 0, nil
	}
	units := append([]entity.Segment(nil), cp.Units...)
	cursor := cp.Cursor
	if cursor > len(units) {
		cursor = len(units)
	}
	return cursor, units[:cursor]
}
