package job

import (
	"context"
	"errors"

	"github.com/xxxsen/common/logutil"

	pkgerrs "github.com/xxxsen/metasearch/internal/pkg/errors"
	"github.com/xxxsen/metasearch/internal/reindex"
)

// ReindexJob triggers a scheduled full rebuild over the configured entity
// types. A trigger that lands while another run is active is dropped; the
// scheduler's overlap guard covers the job itself, this covers runs started
// through the API.
type ReindexJob struct {
	runner *reindex.Runner
	types  []string
}

func NewReindexJob(runner *reindex.Runner, types []string) *ReindexJob {
	return &ReindexJob{runner: runner, types: types}
}

func (j *ReindexJob) Name() string {
	return "scheduled_reindex"
}

func (j *ReindexJob) Run(ctx context.Context) error {
	if j.runner == nil || len(j.types) == 0 {
		return nil
	}
	_, err := j.runner.Trigger(ctx, j.types)
	if errors.Is(err, pkgerrs.ErrRunning) {
		logutil.GetLogger(ctx).Info("reindex already in progress, skip scheduled run")
		return nil
	}
	return err
}
