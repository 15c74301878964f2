package jobs

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/stage"
)

// Query serves progress reads straight from the store. It never touches a
// worker, so polling cannot block or disturb execution.
type Query struct {
	store repository.JobStore
	bus   *EventBus
}

func NewQuery(store repository.JobStore, bus *EventBus) *Query {
	return &Query{store: store, bus: bus}
}

// Job returns the committed record.
func (q *Query) Job(ctx context.Context, id string) (*entity.Job, error) {
	return q.store.Get(ctx, id)
}

// Progress returns the last committed snapshot of the job.
func (q *Query) Progress(ctx context.Context, id string) (entity.Snapshot, error) {
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return entity.Snapshot{}, err
	}
	return j.Snapshot(), nil
}

// Result returns the stage outputs of a completed job and NotReady otherwise.
func (q *Query) Result(ctx context.Context, id string) (entity.Result, error) {
	j, err := q.store.Get(ctx, id)
	if err != nil {
		return entity.Result{}, err
	}
	if j.State != constants.JobStateCompleted {
		return entity.Result{}, common.NotReady(id, string(j.State))
	}
	return j.Result(), nil
}

// Events returns recorded changes of the job after seq. It is empty when no
// event bus is attached.
func (q *Query) Events(id string, seq int64) []Record {
	if q.bus == nil {
		return nil
	}
	return q.bus.Since(id, seq)
}

// NewEngine wires a machine, an event bus, a scheduler and a query over store
// using the engine configuration.
func NewEngine(store repository.JobStore, registry stage.Registry, cfg common.EngineConfig, logger *slog.Logger) (*Scheduler, *Query) {
	machine := NewMachine(store, logger, cfg.StaleRetries)
	bus := NewEventBus(cfg.EventBuffer)
	machine.Observe(bus)
	sched := NewScheduler(machine, registry, logger,
		WithStageTimeout(cfg.StageTimeout),
		WithCheckpointInterval(cfg.CheckpointInterval),
		WithMaxActive(cfg.MaxActive),
		WithAutoResume(cfg.AutoResume),
	)
	return sched, NewQuery(store, bus)
}
