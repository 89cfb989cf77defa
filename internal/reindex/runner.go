package reindex

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/pkg/errors"
	"github.com/xxxsen/metasearch/internal/repo"
)

// RunStore persists run history. It is optional; a nil store keeps runs
// in memory only.
type RunStore interface {
	Create(ctx context.Context, run *model.ReindexRun) error
	Finish(ctx context.Context, run *model.ReindexRun) error
}

var _ RunStore = (*repo.ReindexRunRepo)(nil)

// Runner serializes reindex runs: at most one executes at a time, triggers
// while one is active are rejected with ErrRunning.
type Runner struct {
	handler Handler
	store   RunStore
	running atomic.Bool

	lastRun atomic.Pointer[model.ReindexRun]
}

func NewRunner(handler Handler, store RunStore) *Runner {
	return &Runner{handler: handler, store: store}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// LastRun returns the most recent run's state, nil before the first trigger.
func (r *Runner) LastRun() *model.ReindexRun {
	return r.lastRun.Load()
}

// Trigger starts a run over the given entity types on a fresh goroutine and
// returns its run id immediately.
func (r *Runner) Trigger(ctx context.Context, types []string) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", errors.ErrRunning
	}
	runID := uuid.NewString()
	run := &model.ReindexRun{
		RunID:       runID,
		EntityTypes: strings.Join(types, ","),
		State:       model.ReindexRunStateRunning,
		StartedAt:   time.Now().Unix(),
	}
	// LastRun readers share whatever pointer is stored here, so the run
	// goroutine keeps mutating its own copy and only publishes snapshots
	snap := *run
	r.lastRun.Store(&snap)
	if r.store != nil {
		if err := r.store.Create(ctx, run); err != nil {
			r.running.Store(false)
			return "", err
		}
	}
	go func() {
		defer r.running.Store(false)
		r.run(context.Background(), run, types)
	}()
	return runID, nil
}

func (r *Runner) run(ctx context.Context, run *model.ReindexRun, types []string) {
	keys := r.handler.WorkingSet(types)
	rc := NewContext(run.RunID, keys)
	logutil.GetLogger(ctx).Info("reindex run started",
		zap.String("run_id", run.RunID), zap.Strings("keys", keys))

	for _, key := range keys {
		if err := r.handler.Recreate(ctx, rc, key); err != nil {
			rc.Fail(key, err)
			logutil.GetLogger(ctx).Error("recreate failed", zap.String("key", key), zap.Error(err))
		}
	}
	for _, key := range keys {
		if rc.Failed(key) {
			continue
		}
		if err := r.handler.Promote(ctx, rc, key); err != nil {
			rc.Fail(key, err)
			logutil.GetLogger(ctx).Error("promote failed", zap.String("key", key), zap.Error(err))
		}
	}
	r.handler.Finalize(ctx, rc)

	run.Success, run.Failed = rc.Totals()
	run.FinishedAt = time.Now().Unix()
	if len(rc.FailedKeys()) > 0 {
		run.State = model.ReindexRunStateFailed
	} else {
		run.State = model.ReindexRunStateCompleted
	}
	if raw, err := json.Marshal(rc.Results()); err == nil {
		run.Summary = string(raw)
	}
	snap := *run
	r.lastRun.Store(&snap)
	if r.store != nil {
		if err := r.store.Finish(ctx, run); err != nil {
			logutil.GetLogger(ctx).Error("persist run summary failed", zap.Error(err))
		}
	}
}
