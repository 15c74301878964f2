// Package jobs runs translation jobs: the lifecycle state machine, the per-job
// worker that drives the stage plan, and the scheduler that owns the workers.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventStart          EventKind = "start"
	EventPause          EventKind = "pause"
	EventResume         EventKind = "resume"
	EventStop           EventKind = "stop"
	EventStageSucceeded EventKind = "stage_succeeded"
	EventStageFailed    EventKind = "stage_failed"
	// EventCheckpoint is published when a stage checkpoint is committed. It is
	// not a transition and never changes the state.
	EventCheckpoint EventKind = "checkpoint"
	// EventProgress is published when an advisory progress estimate is committed.
	EventProgress EventKind = "progress"
)

// Event is one input to the state machine. Output is set for EventStageSucceeded
// and Err for EventStageFailed. A non-zero Run rejects the event unless the record
// is still on that run, so a superseded worker cannot move a restarted job.
type Event struct {
	Kind   EventKind
	Run    int
	Output *stage.Output
	Err    error
}

// ErrRunSuperseded is returned to a worker whose run is no longer current.
var ErrRunSuperseded = errors.New("run superseded")

var transitions = map[constants.JobState]map[EventKind]constants.JobState{
	constants.JobStateCreated: {
		EventStart: constants.JobStateRunning,
	},
	constants.JobStateRunning: {
		EventPause:          constants.JobStatePaused,
		EventStop:           constants.JobStateStopped,
		EventStageSucceeded: constants.JobStateRunning,
		EventStageFailed:    constants.JobStateFailed,
	},
	constants.JobStatePaused: {
		EventResume: constants.JobStateRunning,
		EventStop:   constants.JobStateStopped,
	},
	constants.JobStateStopped: {
		EventStart: constants.JobStateRunning,
	},
	constants.JobStateFailed: {
		EventStop: constants.JobStateStopped,
	},
}

// Allowed reports whether ev is accepted in state s.
func Allowed(s constants.JobState, ev EventKind) bool {
	_, ok := transitions[s][ev]
	return ok
}

// Transition computes the record that results from applying ev to cur. It does
// not touch the store; cur is left unchanged.
func Transition(cur *entity.Job, ev Event, now time.Time) (*entity.Job, error) {
	to, ok := transitions[cur.State][ev.Kind]
	if !ok {
		return nil, common.InvalidTransition(cur.ID, string(cur.State), string(ev.Kind))
	}
	if ev.Run != 0 && ev.Run != cur.Run {
		return nil, common.NewAppError(common.CodeInvalidTransition, "event from run superseded by a restart", ErrRunSuperseded)
	}

	next := cur.Clone()
	if ev.Kind != EventPause && ev.Kind != EventResume {
		next.Estimate = 0
	}
	switch ev.Kind {
	case EventStart:
		if cur.State == constants.JobStateCreated {
			next.Run = 1
			next.CurrentStageIndex = 0
			next.Progress = 0
			next.Checkpoint = nil
			next.Results = nil
		} else {
			// restart continues from the committed stage index and checkpoint
			next.Run = cur.Run + 1
		}
		next.Error = nil
		next.FinishedAt = nil
	case EventStageSucceeded:
		res := entity.StageResult{Kind: cur.CurrentStage()}
		if ev.Output != nil {
			res.Output = ev.Output.Text
			res.Segments = append([]entity.Segment(nil), ev.Output.Segments...)
		}
		next.Results = append(next.Results, res)
		next.Checkpoint = nil
		if cur.IsLastStage() {
			to = constants.JobStateCompleted
			next.Progress = 100
			t := now
			next.FinishedAt = &t
		} else {
			next.CurrentStageIndex = cur.CurrentStageIndex + 1
			next.Progress = 0
		}
	case EventStageFailed:
		next.Error = stageError(ev.Err)
		t := now
		next.FinishedAt = &t
	}
	next.State = to
	next.UpdatedAt = now
	return next, nil
}

func stageError(err error) *entity.JobError {
	if err == nil {
		err = errors.New("stage failed")
	}
	code := common.ErrorCode(err)
	if code == "" {
		code = common.CodeStageFailed
	}
	return &entity.JobError{Code: code, Message: err.Error()}
}

// Change describes one committed update of a job record.
type Change struct {
	JobID      string
	Event      EventKind
	From       constants.JobState
	To         constants.JobState
	Run        int
	StageIndex int
	Progress   int
	Version    int64
	At         time.Time
}

// Observer is notified after every committed change.
type Observer interface {
	Observe(Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

func (f ObserverFunc) Observe(c Change) { f(c) }

// Machine applies events to stored job records with compare-and-set.
type Machine struct {
	store   repository.JobStore
	logger  *slog.Logger
	now     func() time.Time
	retries int

	mu        sync.RWMutex
	observers []Observer
}

func NewMachine(store repository.JobStore, logger *slog.Logger, staleRetries int) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if staleRetries <= 0 {
		staleRetries = 5
	}
	return &Machine{
		store:   store,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		retries: staleRetries,
	}
}

// Observe registers o for every later change.
func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Apply performs a single compare-and-set of ev against cur. It fails with
// common.ErrStaleWrite when cur is no longer the stored version.
func (m *Machine) Apply(ctx context.Context, cur *entity.Job, ev Event) (*entity.Job, error) {
	next, err := Transition(cur, ev, m.now())
	if err != nil {
		return nil, err
	}
	if _, err := m.store.CompareAndSet(ctx, cur.ID, cur.Version, next); err != nil {
		return nil, err
	}
	m.logger.Info("job.transition",
		"job_id", cur.ID,
		"event", ev.Kind,
		"from", cur.State,
		"to", next.State,
		"run", next.Run,
		"stage_index", next.CurrentStageIndex,
		"version", next.Version,
	)
	m.notify(Change{
		JobID:      cur.ID,
		Event:      ev.Kind,
		From:       cur.State,
		To:         next.State,
		Run:        next.Run,
		StageIndex: next.CurrentStageIndex,
		Progress:   next.Progress,
		Version:    next.Version,
		At:         next.UpdatedAt,
	})
	return next, nil
}

// Fire reads the job and applies ev, re-reading and retrying when a concurrent
// writer got there first.
func (m *Machine) Fire(ctx context.Context, id string, ev Event) (*entity.Job, error) {
	for attempt := 0; ; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := m.Apply(ctx, cur, ev)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, common.ErrStaleWrite) || attempt+1 >= m.retries {
			return nil, err
		}
		m.logger.Debug("job.transition.stale", "job_id", id, "event", ev.Kind, "attempt", attempt+1)
	}
}

// CommitCheckpoint stores cp for the stage the worker of run is executing. The
// record's progress never decreases and a checkpoint behind the stored cursor
// is ignored. ErrRunSuperseded is returned when the job has moved on.
func (m *Machine) CommitCheckpoint(ctx context.Context, id string, run, stageIndex int, cp entity.Checkpoint) (*entity.Job, error) {
	for attempt := 0; ; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Run != run || cur.CurrentStageIndex != stageIndex || !cur.State.IsActive() {
			return cur, ErrRunSuperseded
		}
		if cur.Checkpoint != nil && cp.Cursor < cur.Checkpoint.Cursor {
			return cur, nil
		}

		next := cur.Clone()
		next.Checkpoint = cp.Clone()
		next.Progress = max(cur.Progress, clampPercent(cp.Percent))
		next.Checkpoint.Percent = next.Progress
		next.UpdatedAt = m.now()
		if _, err := m.store.CompareAndSet(ctx, id, cur.Version, next); err != nil {
			if errors.Is(err, common.ErrStaleWrite) && attempt+1 < m.retries {
				continue
			}
			return nil, err
		}
		m.logger.Debug("job.checkpoint",
			"job_id", id,
			"stage_index", stageIndex,
			"cursor", cp.Cursor,
			"total", cp.Total,
			"progress", next.Progress,
			"version", next.Version,
		)
		m.notify(Change{
			JobID:      id,
			Event:      EventCheckpoint,
			From:       cur.State,
			To:         next.State,
			Run:        next.Run,
			StageIndex: next.CurrentStageIndex,
			Progress:   next.Progress,
			Version:    next.Version,
			At:         next.UpdatedAt,
		})
		return next, nil
	}
}

// CommitEstimate records an advisory progress value for the stage the worker of
// run is executing. Values at or below what the record already shows are not
// written. The estimate is discarded by a stop and never becomes a checkpoint.
func (m *Machine) CommitEstimate(ctx context.Context, id string, run, stageIndex, percent int) (*entity.Job, error) {
	percent = clampPercent(percent)
	for attempt := 0; ; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Run != run || cur.CurrentStageIndex != stageIndex || cur.State != constants.JobStateRunning {
			return cur, ErrRunSuperseded
		}
		if percent <= max(cur.Progress, cur.Estimate) {
			return cur, nil
		}

		next := cur.Clone()
		next.Estimate = percent
		next.UpdatedAt = m.now()
		if _, err := m.store.CompareAndSet(ctx, id, cur.Version, next); err != nil {
			if errors.Is(err, common.ErrStaleWrite) && attempt+1 < m.retries {
				continue
			}
			return nil, err
		}
		m.notify(Change{
			JobID:      id,
			Event:      EventProgress,
			From:       cur.State,
			To:         next.State,
			Run:        next.Run,
			StageIndex: next.CurrentStageIndex,
			Progress:   percent,
			Version:    next.Version,
			At:         next.UpdatedAt,
		})
		return next, nil
	}
}

func (m *Machine) notify(c Change) {
	m.mu.RLock()
	obs := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("job.observer.panic", "job_id", c.JobID, "event", c.Event, "panic", r)
				}
			}()
			o.Observe(c)
		}()
	}
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
