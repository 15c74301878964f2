package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

// worker drives one run of one job through its stage plan.
type worker struct {
	jobID  string
	run    int
	sched  *Scheduler
	logger *slog.Logger

	// ctx is cancelled on stop; every executor context derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	// ctrl serializes control transitions with the worker's own stage commits so
	// the signal flags always agree with the stored state.
	ctrl sync.Mutex

	mu         sync.Mutex
	paused     bool
	stopping   bool
	finishing  bool
	resumeCh   chan struct{}
	stopCh     chan struct{}
	pending    *entity.Checkpoint
	lastCommit time.Time
	hint       int
	// estimated and lastEstimate throttle advisory progress commits.
	estimated    int
	lastEstimate time.Time

	done chan struct{}
}

func newWorker(s *Scheduler, jobID string) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		jobID:  jobID,
		sched:  s,
		logger: s.logger.With("job_id", jobID),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (w *worker) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.paused {
		w.paused = true
		w.resumeCh = make(chan struct{})
	}
}

func (w *worker) resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		w.paused = false
		close(w.resumeCh)
	}
}

func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopping {
		w.stopping = true
		close(w.stopCh)
		w.cancel()
	}
}

// retiring reports whether the worker is on its way out, so a new start only
// has to wait for it.
func (w *worker) retiring() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping || w.finishing
}

// settled is retiring observed under the control lock, so a terminal commit
// that is already visible in the store is never reported as a live worker.
func (w *worker) settled() bool {
	w.ctrl.Lock()
	defer w.ctrl.Unlock()
	return w.retiring()
}

func (w *worker) isStopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

func (w *worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// awaitRunnable blocks while the job is paused. It returns false once stopped.
func (w *worker) awaitRunnable() bool {
	for {
		w.mu.Lock()
		if w.stopping {
			w.mu.Unlock()
			return false
		}
		if !w.paused {
			w.mu.Unlock()
			return true
		}
		ch := w.resumeCh
		w.mu.Unlock()

		select {
		case <-ch:
		case <-w.stopCh:
			return false
		}
	}
}

// drive runs stages until the job completes, fails or is stopped.
func (w *worker) drive(job *entity.Job) {
	defer w.sched.release(w)

	w.logger.Info("worker.started", "run", w.run, "stage_index", job.CurrentStageIndex, "stages", len(job.StagesPlan))
	cur := job
	for {
		if cur.State != constants.JobStateRunning {
			w.logger.Info("worker.exit", "state", cur.State, "run", w.run)
			return
		}
		out, err := w.runStage(cur)
		if errors.Is(err, errStopped) {
			w.logger.Info("worker.stopped", "run", w.run, "stage_index", cur.CurrentStageIndex)
			return
		}

		ev := Event{Kind: EventStageSucceeded, Run: w.run, Output: &out}
		if err != nil {
			ev = Event{Kind: EventStageFailed, Run: w.run, Err: err}
		}
		next, cerr := w.commit(ev)
		if cerr != nil {
			if errors.Is(cerr, errStopped) {
				w.logger.Info("worker.stopped", "run", w.run, "stage_index", cur.CurrentStageIndex)
			} else {
				w.logger.Error("worker.commit failed", "event", ev.Kind, "err", cerr)
			}
			return
		}
		if ev.Kind == EventStageFailed {
			w.logger.Warn("worker.stage_failed", "stage", cur.CurrentStage(), "err", err)
		} else {
			w.logger.Info("worker.stage_done", "stage", cur.CurrentStage(), "next_state", next.State)
		}
		cur = next
	}
}

var errStopped = errors.New("worker stopped")

// commit applies a stage event while holding the control lock. A pause that
// lands between the executor returning and the commit is waited out.
func (w *worker) commit(ev Event) (*entity.Job, error) {
	for {
		if !w.awaitRunnable() {
			return nil, errStopped
		}
		w.ctrl.Lock()
		if w.isStopping() {
			w.ctrl.Unlock()
			return nil, errStopped
		}
		if w.isPaused() {
			w.ctrl.Unlock()
			continue
		}
		next, err := w.sched.machine.Fire(w.ctx, w.jobID, ev)
		if err == nil && next.State.IsTerminal() {
			w.mu.Lock()
			w.finishing = true
			w.mu.Unlock()
		}
		w.ctrl.Unlock()
		if err != nil && errors.Is(err, ErrRunSuperseded) {
			return nil, errStopped
		}
		return next, err
	}
}

type execResult struct {
	out stage.Output
	err error
}

// runStage invokes the executor for the current stage until it succeeds, fails,
// times out or the run is stopped. Pauses re-invoke it from the last committed
// checkpoint.
func (w *worker) runStage(job *entity.Job) (stage.Output, error) {
	kind := job.CurrentStage()
	ex, err := w.sched.registry.Lookup(kind)
	if err != nil {
		return stage.Output{}, common.NewAppError(common.CodeStageFailed, err.Error(), nil)
	}
	in := stage.Input{
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		Kind:           kind,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: job.TargetLanguage,
		Text:           job.StageInputText(),
		FilePath:       job.Input.FilePath,
		Resume:         job.Checkpoint.Clone(),
	}
	stageIndex := job.CurrentStageIndex
	budget := w.sched.stageTimeout

	w.mu.Lock()
	w.pending = nil
	w.lastCommit = time.Time{}
	w.hint = 0
	w.estimated = 0
	w.lastEstimate = time.Time{}
	w.mu.Unlock()

	for {
		if !w.awaitRunnable() {
			return stage.Output{}, errStopped
		}
		if err := w.sched.acquire(w.ctx); err != nil {
			return stage.Output{}, errStopped
		}
		if w.isPaused() {
			w.sched.releaseSlot()
			continue
		}

		if w.sched.stageTimeout > 0 && budget <= 0 {
			w.sched.releaseSlot()
			return stage.Output{}, w.timeoutError(kind)
		}

		ctx, cancel := context.WithCancel(w.ctx)
		rep := &reporter{w: w, stageIndex: stageIndex}
		resCh := make(chan execResult, 1)
		started := time.Now()
		go func(in stage.Input) {
			out, err := safeExecute(ctx, ex, in, rep)
			resCh <- execResult{out: out, err: err}
		}(in)

		var timeout <-chan time.Time
		var timer *time.Timer
		if w.sched.stageTimeout > 0 {
			timer = time.NewTimer(budget)
			timeout = timer.C
		}

		var res execResult
		select {
		case res = <-resCh:
		case <-timeout:
			cancel()
			w.sched.releaseSlot()
			return stage.Output{}, w.timeoutError(kind)
		case <-w.stopCh:
			// the executor is abandoned; its context is already cancelled
			if timer != nil {
				timer.Stop()
			}
			cancel()
			w.sched.releaseSlot()
			return stage.Output{}, errStopped
		}
		if timer != nil {
			timer.Stop()
		}
		cancel()
		w.sched.releaseSlot()
		budget -= time.Since(started)

		if w.isStopping() {
			return stage.Output{}, errStopped
		}
		if res.err == nil {
			// output produced while paused is held until resume
			if !w.awaitRunnable() {
				return stage.Output{}, errStopped
			}
			return res.out, nil
		}
		if !w.isPaused() && !errors.Is(res.err, stage.ErrSuspended) {
			return stage.Output{}, res.err
		}

		// suspended: flush, wait for resume, continue from the committed checkpoint
		w.flush(stageIndex)
		w.logger.Info("worker.suspended", "stage", kind)
		if !w.awaitRunnable() {
			return stage.Output{}, errStopped
		}
		fresh, err := w.sched.machine.store.Get(w.ctx, w.jobID)
		if err != nil {
			if w.isStopping() {
				return stage.Output{}, errStopped
			}
			return stage.Output{}, err
		}
		if fresh.Run != w.run || fresh.CurrentStageIndex != stageIndex {
			return stage.Output{}, errStopped
		}
		in.Resume = fresh.Checkpoint.Clone()
		w.logger.Info("worker.resumed", "stage", kind, "cursor", cursorOf(in.Resume))
	}
}

func (w *worker) timeoutError(kind constants.StageKind) error {
	w.logger.Warn("worker.stage_timeout", "stage", kind, "timeout", w.sched.stageTimeout)
	return common.NewAppError(common.CodeExecutorTimeout,
		fmt.Sprintf("stage %s exceeded %s", kind, w.sched.stageTimeout), common.ErrExecutorTimeout)
}

func safeExecute(ctx context.Context, ex stage.Executor, in stage.Input, r stage.Reporter) (out stage.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panicked: %v", in.Kind, p)
		}
	}()
	return ex.Execute(ctx, in, r)
}

// flush commits a checkpoint held back by the commit interval.
func (w *worker) flush(stageIndex int) {
	w.mu.Lock()
	cp := w.pending
	w.pending = nil
	w.mu.Unlock()
	if cp == nil {
		return
	}
	if _, err := w.sched.machine.CommitCheckpoint(w.ctx, w.jobID, w.run, stageIndex, *cp); err != nil && !errors.Is(err, ErrRunSuperseded) {
		w.logger.Warn("worker.flush failed", "err", err)
	}
}

func cursorOf(cp *entity.Checkpoint) int {
	if cp == nil {
		return 0
	}
	return cp.Cursor
}

// reporter is the stage.Reporter handed to one executor invocation.
type reporter struct {
	w          *worker
	stageIndex int
}

// Progress commits the value as an estimate, at most once per checkpoint
// interval. A stop drops it again; only checkpoints survive.
func (r *reporter) Progress(percent int) {
	w := r.w
	percent = clampPercent(percent)
	w.mu.Lock()
	if percent >= w.hint+10 || percent == 100 {
		w.logger.Debug("worker.progress", "stage_index", r.stageIndex, "percent", percent)
	}
	if percent > w.hint {
		w.hint = percent
	}
	interval := w.sched.checkpointInterval
	due := !w.stopping && !w.paused && percent > w.estimated &&
		(w.lastEstimate.IsZero() || interval <= 0 || time.Since(w.lastEstimate) >= interval)
	if due {
		w.estimated = percent
		w.lastEstimate = time.Now()
	}
	w.mu.Unlock()
	if !due {
		return
	}

	_, err := w.sched.machine.CommitEstimate(w.ctx, w.jobID, w.run, r.stageIndex, percent)
	if err != nil && !errors.Is(err, ErrRunSuperseded) && w.ctx.Err() == nil {
		w.logger.Warn("worker.progress failed", "stage_index", r.stageIndex, "err", err)
	}
}

func (r *reporter) Checkpoint(cp entity.Checkpoint) error {
	w := r.w
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return context.Canceled
	}
	paused := w.paused
	interval := w.sched.checkpointInterval
	due := paused || w.lastCommit.IsZero() || interval <= 0 || time.Since(w.lastCommit) >= interval
	if !due {
		w.pending = cp.Clone()
		w.mu.Unlock()
		return nil
	}
	w.pending = nil
	w.mu.Unlock()

	_, err := w.sched.machine.CommitCheckpoint(w.ctx, w.jobID, w.run, r.stageIndex, cp)
	switch {
	case errors.Is(err, ErrRunSuperseded):
		return err
	case err != nil:
		w.logger.Warn("worker.checkpoint failed", "stage_index", r.stageIndex, "err", err)
		w.mu.Lock()
		if w.pending == nil {
			w.pending = cp.Clone()
		}
		w.mu.Unlock()
	default:
		w.mu.Lock()
		w.lastCommit = time.Now()
		w.mu.Unlock()
	}
	if paused || w.isPaused() {
		return stage.ErrSuspended
	}
	return nil
}
