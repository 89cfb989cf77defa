package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/pkg/dbutil"
)

const reindexRunColumns = "run_id, entity_types, state, success, failed, started_at, finished_at, summary"

type ReindexRunRepo struct {
	db *sql.DB
}

func NewReindexRunRepo(db *sql.DB) *ReindexRunRepo {
	return &ReindexRunRepo{db: db}
}

func (r *ReindexRunRepo) Create(ctx context.Context, run *model.ReindexRun) error {
	data := map[string]interface{}{
		"run_id":       run.RunID,
		"entity_types": run.EntityTypes,
		"state":        run.State,
		"success":      run.Success,
		"failed":       run.Failed,
		"started_at":   run.StartedAt,
		"finished_at":  run.FinishedAt,
		"summary":      run.Summary,
	}
	sqlStr, args, err := builder.BuildInsert("reindex_runs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ReindexRunRepo) Finish(ctx context.Context, run *model.ReindexRun) error {
	where := map[string]interface{}{
		"run_id": run.RunID,
	}
	update := map[string]interface{}{
		"state":       run.State,
		"success":     run.Success,
		"failed":      run.Failed,
		"finished_at": run.FinishedAt,
		"summary":     run.Summary,
	}
	sqlStr, args, err := builder.BuildUpdate("reindex_runs", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ReindexRunRepo) Get(ctx context.Context, runID string) (*model.ReindexRun, error) {
	where := map[string]interface{}{
		"run_id": runID,
	}
	sqlStr, args, err := builder.BuildSelect("reindex_runs", where,
		[]string{"run_id", "entity_types", "state", "success", "failed", "started_at", "finished_at", "summary"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var run model.ReindexRun
	if err := row.Scan(&run.RunID, &run.EntityTypes, &run.State, &run.Success, &run.Failed, &run.StartedAt, &run.FinishedAt, &run.Summary); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ReindexRunRepo) ListRecent(ctx context.Context, limit int) ([]model.ReindexRun, error) {
	where := map[string]interface{}{
		"_orderby": "started_at desc",
		"_limit":   []uint{0, uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("reindex_runs", where,
		[]string{"run_id", "entity_types", "state", "success", "failed", "started_at", "finished_at", "summary"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.ReindexRun
	for rows.Next() {
		var run model.ReindexRun
		if err := rows.Scan(&run.RunID, &run.EntityTypes, &run.State, &run.Success, &run.Failed, &run.StartedAt, &run.FinishedAt, &run.Summary); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListByRunIDs fetches a specific set of runs, used by the runs endpoint
// when callers poll several triggered runs at once.
func (r *ReindexRunRepo) ListByRunIDs(ctx context.Context, runIDs []string) ([]model.ReindexRun, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+reindexRunColumns+" FROM reindex_runs WHERE run_id IN (?)", runIDs)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.ReindexRun
	for rows.Next() {
		var run model.ReindexRun
		if err := rows.Scan(&run.RunID, &run.EntityTypes, &run.State, &run.Success, &run.Failed, &run.StartedAt, &run.FinishedAt, &run.Summary); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
