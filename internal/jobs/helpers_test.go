package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store *repository.MemoryStore
	bus   *EventBus
	sched *Scheduler
	query *Query
}

func newHarness(t *testing.T, registry stage.Registry, opts ...Option) *harness {
	t.Helper()
	store := repository.NewMemoryStore(discardLogger())
	machine := NewMachine(store, discardLogger(), 5)
	bus := NewEventBus(256)
	machine.Observe(bus)
	opts = append([]Option{WithCheckpointInterval(0)}, opts...)
	sched := NewScheduler(machine, registry, discardLogger(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	return &harness{store: store, bus: bus, sched: sched, query: NewQuery(store, bus)}
}

func (h *harness) create(t *testing.T, id string, plan ...constants.StageKind) *entity.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &entity.Job{
		ID:             id,
		OwnerID:        "owner-1",
		SourceLanguage: "en",
		TargetLanguage: "de",
		StagesPlan:     plan,
		Input:          entity.JobInput{Text: "Hello world."},
		State:          constants.JobStateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, h.store.Create(context.Background(), j))
	return j
}

func (h *harness) waitState(t *testing.T, id string, want constants.JobState) entity.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.query.Progress(context.Background(), id)
		return err == nil && s.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	s, err := h.query.Progress(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) waitProgress(t *testing.T, id string, stageIndex, progress int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.query.Progress(context.Background(), id)
		return err == nil && s.CurrentStageIndex == stageIndex && s.Progress == progress
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached stage %d at %d%%", id, stageIndex, progress)
}

func (h *harness) waitIdle(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.sched.Live(id) }, 5*time.Second, 5*time.Millisecond)
}

// transitions returns the committed lifecycle events of id, checkpoints and
// progress estimates excluded.
func (h *harness) transitions(id string) []Record {
	var out []Record
	for _, r := range h.bus.Since(id, 0) {
		if r.Event != EventCheckpoint && r.Event != EventProgress {
			out = append(out, r)
		}
	}
	return out
}

func immediate(text string) stage.Executor {
	return stage.ExecutorFunc(func(context.Context, stage.Input, stage.Reporter) (stage.Output, error) {
		return stage.Output{Text: text}, nil
	})
}

// stepExecutor processes units one at a time, each released by a send on step,
// and checkpoints after every unit.
type stepExecutor struct {
	units  int
	output string
	step   chan struct{}

	mu     sync.Mutex
	starts []int
}

func newStepExecutor(units int, output string) *stepExecutor {
	return &stepExecutor{units: units, output: output, step: make(chan struct{})}
}

func (e *stepExecutor) Execute(ctx context.Context, in stage.Input, r stage.Reporter) (stage.Output, error) {
	start, done := stage.Resumed(in.Resume)
	e.mu.Lock()
	e.starts = append(e.starts, start)
	e.mu.Unlock()

	units := done
	for i := start; i < e.units; i++ {
		select {
		case <-e.step:
		case <-ctx.Done():
			return stage.Output{}, ctx.Err()
		}
		units = append(units, entity.Segment{Text: fmt.Sprint(i)})
		r.Progress(stage.Percent(i+1, e.units))
		cp := entity.Checkpoint{Cursor: i + 1, Total: e.units, Percent: stage.Percent(i+1, e.units), Units: units}
		if err := r.Checkpoint(cp); err != nil {
			return stage.Output{}, err
		}
	}
	return stage.Output{Text: e.output, Segments: units}, nil
}

func (e *stepExecutor) advance(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case e.step <- struct{}{}:
		case <-time.After(5 * time.Second):
			t.Fatalf("executor did not accept step %d", i+1)
		}
	}
}

func (e *stepExecutor) startCursors() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.starts...)
}

// blockingExecutor signals entered and waits for ctx.
func blockingExecutor(entered chan<- string) stage.Executor {
	return stage.ExecutorFunc(func(ctx context.Context, in stage.Input, _ stage.Reporter) (stage.Output, error) {
		if entered != nil {
			entered <- in.JobID
		}
		<-ctx.Done()
		return stage.Output{}, ctx.Err()
	})
}
