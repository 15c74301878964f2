package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

// Scheduler owns the live worker of every running job. At most one worker
// exists per job id.
type Scheduler struct {
	machine  *Machine
	registry stage.Registry
	logger   *slog.Logger

	stageTimeout       time.Duration
	checkpointInterval time.Duration
	autoResume         bool
	sem                *semaphore.Weighted

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

type Option func(*Scheduler)

// WithStageTimeout bounds the active execution time of a single stage.
func WithStageTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.stageTimeout = d
		}
	}
}

// WithCheckpointInterval rate-limits checkpoint commits. Zero commits every checkpoint.
func WithCheckpointInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.checkpointInterval = d
		}
	}
}

// WithMaxActive bounds the number of stages executing at once. Zero is unbounded.
func WithMaxActive(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithAutoResume(on bool) Option {
	return func(s *Scheduler) {
		s.autoResume = on
	}
}

func NewScheduler(machine *Machine, registry stage.Registry, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		machine:            machine,
		registry:           registry,
		logger:             logger,
		stageTimeout:       30 * time.Minute,
		checkpointInterval: time.Second,
		workers:            make(map[string]*worker),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Machine returns the state machine the scheduler drives.
func (s *Scheduler) Machine() *Machine { return s.machine }

var errShuttingDown = common.NewAppError("SHUTTING_DOWN", "scheduler is shutting down", common.ErrStoreUnavailable)

// Start spawns a worker for the job and applies the start transition. A worker
// that is still retiring from a stop or a finished run is waited for first;
// any other live worker fails the call with AlreadyRunning.
func (s *Scheduler) Start(ctx context.Context, id string) (*entity.Job, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errShuttingDown
		}
		if old, ok := s.workers[id]; ok {
			s.mu.Unlock()
			if !old.settled() {
				return nil, common.AlreadyRunning(id)
			}
			select {
			case <-old.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		w := newWorker(s, id)
		w.ctrl.Lock()
		s.workers[id] = w
		s.mu.Unlock()

		job, err := s.machine.Fire(ctx, id, Event{Kind: EventStart})
		if err != nil {
			w.ctrl.Unlock()
			s.release(w)
			s.logger.Warn("scheduler.start rejected", "job_id", id, "err", err)
			return nil, err
		}
		w.run = job.Run
		w.ctrl.Unlock()

		go w.drive(job.Clone())
		s.logger.Info("scheduler.started", "job_id", id, "run", job.Run, "stage_index", job.CurrentStageIndex)
		return job, nil
	}
}

// Pause asks the job's worker to suspend at its next checkpoint.
func (s *Scheduler) Pause(ctx context.Context, id string) (*entity.Job, error) {
	return s.control(ctx, id, EventPause, (*worker).pause)
}

// Resume continues a paused job from its last committed checkpoint.
func (s *Scheduler) Resume(ctx context.Context, id string) (*entity.Job, error) {
	return s.control(ctx, id, EventResume, (*worker).resume)
}

// Stop cancels the job's worker and discards uncommitted stage progress. A
// failed job has no worker; stopping it only makes it restartable.
func (s *Scheduler) Stop(ctx context.Context, id string) (*entity.Job, error) {
	return s.control(ctx, id, EventStop, (*worker).stop)
}

// control applies a transition and delivers the matching signal under the
// worker's control lock. The signal is only delivered if the transition commits.
// A worker that is already retiring is waited for, after which the call sees
// the job without a live worker.
func (s *Scheduler) control(ctx context.Context, id string, kind EventKind, signal func(*worker)) (*entity.Job, error) {
	for {
		w := s.lookup(id)
		if w == nil {
			cur, err := s.machine.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if kind == EventStop && cur.State == constants.JobStateFailed {
				return s.machine.Fire(ctx, id, Event{Kind: EventStop})
			}
			return nil, common.NotRunning(id)
		}

		w.ctrl.Lock()
		if w.retiring() {
			w.ctrl.Unlock()
			select {
			case <-w.done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		job, err := s.machine.Fire(ctx, id, Event{Kind: kind})
		if err != nil {
			w.ctrl.Unlock()
			return nil, err
		}
		signal(w)
		w.ctrl.Unlock()
		s.logger.Info("scheduler.signal", "job_id", id, "event", kind, "state", job.State, "version", job.Version)
		return job, nil
	}
}

// Delete removes a job record. A job with a live worker cannot be deleted; a
// retiring worker is waited for as in Start.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	for {
		s.mu.Lock()
		w, ok := s.workers[id]
		if !ok {
			err := s.machine.store.Delete(ctx, id)
			s.mu.Unlock()
			if err != nil {
				return err
			}
			s.logger.Info("scheduler.deleted", "job_id", id)
			return nil
		}
		s.mu.Unlock()
		if !w.settled() {
			return common.AlreadyRunning(id)
		}
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Live reports whether a worker is registered for id.
func (s *Scheduler) Live(id string) bool {
	return s.lookup(id) != nil
}

// Active returns the ids of all jobs with a live worker.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Recover moves jobs left RUNNING or PAUSED by a previous process to STOPPED.
// With auto resume, jobs that were RUNNING are started again from their last
// checkpoint; PAUSED jobs wait for an explicit start. It returns the number recovered.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	orphans, err := s.machine.store.ListByState(ctx, constants.JobStateRunning, constants.JobStatePaused)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range orphans {
		if s.Live(j.ID) {
			continue
		}
		if _, err := s.machine.Fire(ctx, j.ID, Event{Kind: EventStop}); err != nil {
			s.logger.Warn("scheduler.recover failed", "job_id", j.ID, "state", j.State, "err", err)
			continue
		}
		n++
		resume := s.autoResume && j.State == constants.JobStateRunning
		s.logger.Info("scheduler.recovered", "job_id", j.ID, "was", j.State, "auto_resume", resume)
		if resume {
			if _, err := s.Start(ctx, j.ID); err != nil {
				s.logger.Warn("scheduler.auto_resume failed", "job_id", j.ID, "err", err)
			}
		}
	}
	return n, nil
}

// Shutdown cancels every live worker and waits for them to exit or for ctx.
// Records are left RUNNING or PAUSED so the next Recover picks them up.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		live = append(live, w)
	}
	s.mu.Unlock()

	for _, w := range live {
		w.ctrl.Lock()
		w.stop()
		w.ctrl.Unlock()
	}
	for _, w := range live {
		select {
		case <-w.done:
		case <-ctx.Done():
			s.logger.Warn("scheduler.shutdown interrupted by context", "pending", len(s.Active()))
			return ctx.Err()
		}
	}
	s.logger.Info("scheduler.shutdown complete", "interrupted", len(live))
	return nil
}

func (s *Scheduler) lookup(id string) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[id]
}

// release unregisters w and marks it done.
func (s *Scheduler) release(w *worker) {
	s.mu.Lock()
	if s.workers[w.jobID] == w {
		delete(s.workers, w.jobID)
	}
	s.mu.Unlock()
	w.cancel()
	close(w.done)
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if s.sem == nil {
		return nil
	}
	return s.sem.Acquire(ctx, 1)
}

func (s *Scheduler) releaseSlot() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
