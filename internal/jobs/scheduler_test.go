package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

var (
	ocr       = constants.StageOCR
	translate = constants.StageTranslate
)

func TestSchedulerRunsPlanToCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, stage.Registry{ocr: immediate("X"), translate: immediate("Y")})
	h.create(t, "j1", ocr, translate)

	started, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRunning, started.State)
	assert.Equal(t, 1, started.Run)

	snap := h.waitState(t, "j1", constants.JobStateCompleted)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 2, snap.CompletedStages)

	res, err := h.query.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, res.Outputs())

	recs := h.transitions("j1")
	require.Len(t, recs, 3)
	assert.Equal(t, EventStart, recs[0].Event)
	assert.Equal(t, EventStageSucceeded, recs[1].Event)
	assert.Equal(t, constants.JobStateRunning, recs[1].To)
	assert.Equal(t, 1, recs[1].StageIndex)
	assert.Equal(t, 0, recs[1].Progress)
	assert.Equal(t, constants.JobStateCompleted, recs[2].To)

	h.waitIdle(t, "j1")
}

func TestSchedulerVersionStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	ex := newStepExecutor(5, "Y")
	h := newHarness(t, stage.Registry{ocr: immediate("X"), translate: ex})
	h.create(t, "j1", ocr, translate)

	_, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	ex.advance(t, 5)
	h.waitState(t, "j1", constants.JobStateCompleted)

	recs := h.bus.Since("j1", 0)
	require.NotEmpty(t, recs)
	var (
		lastVersion int64 = 1
		lastStage   int
		lastPct     int
	)
	for _, r := range recs {
		assert.Greater(t, r.Version, lastVersion)
		lastVersion = r.Version
		assert.GreaterOrEqual(t, r.StageIndex, lastStage)
		if r.StageIndex == lastStage {
			assert.GreaterOrEqual(t, r.Progress, lastPct)
		}
		lastStage, lastPct = r.StageIndex, r.Progress
	}
}

func TestSchedulerPauseAndResumeFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	ex := newStepExecutor(10, "Y")
	h := newHarness(t, stage.Registry{ocr: immediate("X"), translate: ex})
	h.create(t, "j1", ocr, translate)

	_, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	ex.advance(t, 4)
	h.waitProgress(t, "j1", 1, 40)

	paused, err := h.sched.Pause(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatePaused, paused.State)
	snap, err := h.query.Progress(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatePaused, snap.State)
	assert.Equal(t, 40, snap.Progress)

	// the next unit finishes, its checkpoint is committed and the executor is told to suspend
	ex.advance(t, 1)
	h.waitProgress(t, "j1", 1, 50)

	_, err = h.sched.Pause(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	resumed, err := h.sched.Resume(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRunning, resumed.State)
	assert.GreaterOrEqual(t, resumed.Progress, 50)

	ex.advance(t, 5)
	h.waitState(t, "j1", constants.JobStateCompleted)

	assert.Equal(t, []int{0, 5}, ex.startCursors())
	res, err := h.query.Result(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, res.Stages, 2)
	segs := res.Stages[1].Segments
	require.Len(t, segs, 10)
	for i, s := range segs {
		assert.Equal(t, fmt.Sprint(i), s.Text)
	}
}

func TestSchedulerStopKeepsLastCommittedCheckpoint(t *testing.T) {
	ctx := context.Background()
	var (
		calls   atomic.Int32
		mu      sync.Mutex
		resumed []*entity.Checkpoint
	)
	reached := make(chan struct{}, 1)
	ex := stage.ExecutorFunc(func(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
		mu.Lock()
		resumed = append(resumed, in.Resume)
		mu.Unlock()
		if calls.Add(1) > 1 {
			return stage.Output{Text: "Y"}, nil
		}
		if err := r.Checkpoint(entity.Checkpoint{Cursor: 4, Total: 10, Percent: 40}); err != nil {
			return stage.Output{}, err
		}
		// held back by the commit interval
		if err := r.Checkpoint(entity.Checkpoint{Cursor: 5, Total: 10, Percent: 55}); err != nil {
			return stage.Output{}, err
		}
		r.Progress(55)
		reached <- struct{}{}
		<-ctx.Done()
		return stage.Output{}, ctx.Err()
	})
	h := newHarness(t, stage.Registry{translate: ex}, WithCheckpointInterval(time.Hour))
	h.create(t, "j1", translate)

	_, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	<-reached

	stopped, err := h.sched.Stop(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateStopped, stopped.State)

	snap, err := h.query.Progress(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateStopped, snap.State)
	assert.Equal(t, 40, snap.Progress)
	assert.Equal(t, 4, snap.Current)

	restarted, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, restarted.Run)
	assert.Equal(t, 40, restarted.Progress)

	h.waitState(t, "j1", constants.JobStateCompleted)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, resumed, 2)
	assert.Nil(t, resumed[0])
	require.NotNil(t, resumed[1])
	assert.Equal(t, 4, resumed[1].Cursor)
}

func TestSchedulerConcurrentStartsSpawnOneWorker(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 16)
	h := newHarness(t, stage.Registry{translate: blockingExecutor(entered)})
	h.create(t, "j1", translate)

	const n = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	gate := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := h.sched.Start(ctx, "j1")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, common.ErrAlreadyRunning):
				rejected.Add(1)
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(n-1), rejected.Load())
	<-entered
	assert.Len(t, entered, 0, "a single executor must run")
	assert.Len(t, h.sched.Active(), 1)

	_, err := h.sched.Stop(ctx, "j1")
	require.NoError(t, err)
	h.waitIdle(t, "j1")
}

func TestSchedulerStageTimeoutFailsJob(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	var calls atomic.Int32
	ex := stage.ExecutorFunc(func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		if calls.Add(1) == 1 {
			// ignores cancellation; the worker must abandon it
			<-block
		}
		return stage.Output{Text: "Y"}, nil
	})
	h := newHarness(t, stage.Registry{translate: ex}, WithStageTimeout(50*time.Millisecond))
	h.create(t, "j1", translate)

	_, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)

	snap := h.waitState(t, "j1", constants.JobStateFailed)
	require.NotNil(t, snap.Error)
	assert.Equal(t, common.CodeExecutorTimeout, snap.Error.Code)
	h.waitIdle(t, "j1")

	_, err = h.sched.Start(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrInvalidTransition, "a failed job restarts through stop")

	stopped, err := h.sched.Stop(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateStopped, stopped.State)

	restarted, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, restarted.Error)
	snap = h.waitState(t, "j1", constants.JobStateCompleted)
	assert.Equal(t, 2, snap.Run)
}

func TestSchedulerStageErrorIsIsolated(t *testing.T) {
	ctx := context.Background()
	bad := stage.ExecutorFunc(func(_ context.Context, in stage.Input, _ stage.Reporter) (stage.Output, error) {
		if in.JobID == "bad" {
			return stage.Output{}, errors.New("model refused")
		}
		return stage.Output{Text: "ok"}, nil
	})
	h := newHarness(t, stage.Registry{translate: bad})
	h.create(t, "bad", translate)
	h.create(t, "good", translate)

	_, err := h.sched.Start(ctx, "bad")
	require.NoError(t, err)
	_, err = h.sched.Start(ctx, "good")
	require.NoError(t, err)

	snap := h.waitState(t, "bad", constants.JobStateFailed)
	require.NotNil(t, snap.Error)
	assert.Equal(t, common.CodeStageFailed, snap.Error.Code)
	assert.Contains(t, snap.Error.Message, "model refused")
	h.waitState(t, "good", constants.JobStateCompleted)

	h.waitIdle(t, "bad")
	_, err = h.sched.Pause(ctx, "bad")
	assert.ErrorIs(t, err, common.ErrNotRunning)

	_, err = h.query.Result(ctx, "bad")
	assert.ErrorIs(t, err, common.ErrNotReady)
}

func TestSchedulerControlErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, stage.Registry{translate: blockingExecutor(nil)})
	h.create(t, "j1", translate)

	_, err := h.sched.Pause(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrNotRunning)
	_, err = h.sched.Stop(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrNotRunning)
	_, err = h.sched.Pause(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = h.sched.Start(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, h.sched.Live("missing"))

	started, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	_, err = h.sched.Resume(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	snap, err := h.query.Progress(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, started.Version, snap.Version, "rejected control leaves the version alone")

	_, err = h.query.Result(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrNotReady)

	assert.ErrorIs(t, h.sched.Delete(ctx, "j1"), common.ErrAlreadyRunning)
	_, err = h.sched.Stop(ctx, "j1")
	require.NoError(t, err)
	h.waitIdle(t, "j1")
	require.NoError(t, h.sched.Delete(ctx, "j1"))
	_, err = h.query.Progress(ctx, "j1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSchedulerRecoverOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, stage.Registry{translate: immediate("Y")}, WithAutoResume(true))
	now := time.Now().UTC()
	orphan := &entity.Job{
		ID:         "orphan",
		StagesPlan: []constants.StageKind{translate},
		State:      constants.JobStateRunning,
		Run:        1,
		Progress:   30,
		Checkpoint: &entity.Checkpoint{Cursor: 3, Total: 10, Percent: 30},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, h.store.Create(ctx, orphan))
	h.create(t, "fresh", translate)

	n, err := h.sched.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := h.waitState(t, "orphan", constants.JobStateCompleted)
	assert.Equal(t, 2, snap.Run)

	fresh, err := h.query.Progress(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateCreated, fresh.State)

	recs := h.transitions("orphan")
	require.NotEmpty(t, recs)
	assert.Equal(t, EventStop, recs[0].Event)
	assert.Equal(t, constants.JobStateStopped, recs[0].To)
}

func TestSchedulerMaxActive(t *testing.T) {
	ctx := context.Background()
	var active, peak atomic.Int32
	entered := make(chan struct{}, 2)
	gate := make(chan struct{})
	ex := stage.ExecutorFunc(func(ctx context.Context, _ stage.Input, _ stage.Reporter) (stage.Output, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- struct{}{}
		select {
		case <-gate:
			return stage.Output{Text: "Y"}, nil
		case <-ctx.Done():
			return stage.Output{}, ctx.Err()
		}
	})
	h := newHarness(t, stage.Registry{translate: ex}, WithMaxActive(1))
	h.create(t, "a", translate)
	h.create(t, "b", translate)

	_, err := h.sched.Start(ctx, "a")
	require.NoError(t, err)
	_, err = h.sched.Start(ctx, "b")
	require.NoError(t, err)

	<-entered
	select {
	case <-entered:
		t.Fatal("second stage ran while the first held the only slot")
	case <-time.After(100 * time.Millisecond):
	}
	close(gate)

	h.waitState(t, "a", constants.JobStateCompleted)
	h.waitState(t, "b", constants.JobStateCompleted)
	assert.Equal(t, int32(1), peak.Load())
}

func TestSchedulerShutdownLeavesJobsForRecover(t *testing.T) {
	ctx := context.Background()
	entered := make(chan string, 4)
	h := newHarness(t, stage.Registry{translate: blockingExecutor(entered)})
	h.create(t, "running", translate)
	h.create(t, "paused", translate)
	h.create(t, "idle", translate)

	for _, id := range []string{"running", "paused"} {
		_, err := h.sched.Start(ctx, id)
		require.NoError(t, err)
		<-entered
	}
	_, err := h.sched.Pause(ctx, "paused")
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Shutdown(sctx))
	assert.Empty(t, h.sched.Active())

	snap, err := h.query.Progress(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRunning, snap.State, "shutdown does not stop the record")
	snap, err = h.query.Progress(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatePaused, snap.State)

	_, err = h.sched.Start(ctx, "idle")
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)

	// the next process over the same store
	next := NewScheduler(NewMachine(h.store, discardLogger(), 5), stage.Registry{translate: blockingExecutor(entered)},
		discardLogger(), WithAutoResume(true))
	t.Cleanup(func() { _ = next.Shutdown(context.Background()) })

	n, err := next.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	select {
	case id := <-entered:
		assert.Equal(t, "running", id)
	case <-time.After(5 * time.Second):
		t.Fatal("recovered job was not resumed")
	}
	resumed, err := h.store.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateRunning, resumed.State)
	assert.Equal(t, 2, resumed.Run)
	assert.True(t, next.Live("running"))

	held, err := h.store.Get(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStateStopped, held.State, "paused work waits for an explicit start")
	assert.False(t, next.Live("paused"))
}

func TestSchedulerProgressEstimateIsDroppedOnStop(t *testing.T) {
	ctx := context.Background()
	reached := make(chan struct{})
	ex := stage.ExecutorFunc(func(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
		if err := r.Checkpoint(entity.Checkpoint{Cursor: 2, Total: 5, Percent: 40}); err != nil {
			return stage.Output{}, err
		}
		r.Progress(70)
		close(reached)
		<-ctx.Done()
		return stage.Output{}, ctx.Err()
	})
	h := newHarness(t, stage.Registry{translate: ex}, WithCheckpointInterval(time.Hour))
	h.create(t, "j1", translate)

	_, err := h.sched.Start(ctx, "j1")
	require.NoError(t, err)
	<-reached

	snap, err := h.query.Progress(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 70, snap.Progress)
	assert.Equal(t, 2, snap.Current)

	var estimates []int
	for _, r := range h.bus.Since("j1", 0) {
		if r.Event == EventProgress {
			estimates = append(estimates, r.Progress)
		}
	}
	assert.Equal(t, []int{70}, estimates)

	stopped, err := h.sched.Stop(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, stopped.Snapshot().Progress)
	snap, err = h.query.Progress(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, snap.Progress)
}

func TestSchedulerControlWaitsForRetiringWorker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, stage.Registry{translate: immediate("Y")})
	h.create(t, "j1", translate)

	cur, err := h.store.Get(ctx, "j1")
	require.NoError(t, err)
	done := cur.Clone()
	done.State = constants.JobStateCompleted
	_, err = h.store.CompareAndSet(ctx, "j1", cur.Version, done)
	require.NoError(t, err)

	// a worker that has committed COMPLETED but not yet unregistered
	w := newWorker(h.sched, "j1")
	w.finishing = true
	h.sched.mu.Lock()
	h.sched.workers["j1"] = w
	h.sched.mu.Unlock()

	errs := make(chan error, 1)
	go func() {
		_, err := h.sched.Pause(ctx, "j1")
		errs <- err
	}()
	select {
	case err := <-errs:
		t.Fatalf("pause returned before the worker left: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	h.sched.release(w)
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, common.ErrNotRunning)
	case <-time.After(5 * time.Second):
		t.Fatal("pause never returned")
	}
}
