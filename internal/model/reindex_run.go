package model

const (
	ReindexRunStateRunning   = "running"
	ReindexRunStateCompleted = "completed"
	ReindexRunStateFailed    = "failed"
)

type ReindexRun struct {
	RunID       string `json:"run_id"`
	EntityTypes string `json:"entity_types"`
	State       string `json:"state"`
	Success     int64  `json:"success"`
	Failed      int64  `json:"failed"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
	Summary     string `json:"summary"`
}
