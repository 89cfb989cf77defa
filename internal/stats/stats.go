package stats

import (
	"sync"
	"sync/atomic"
)

// Tracker accumulates success/failure counts per pipeline stage. Stages are
// created lazily on first Record.
type Tracker struct {
	mu     sync.RWMutex
	stages map[string]*stageCounter
}

type stageCounter struct {
	success atomic.Int64
	failed  atomic.Int64
}

type StageSnapshot struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

func NewTracker() *Tracker {
	return &Tracker{stages: make(map[string]*stageCounter)}
}

func (t *Tracker) stage(name string) *stageCounter {
	t.mu.RLock()
	c, ok := t.stages[name]
	t.mu.RUnlock()
	if ok {
		return c
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.stages[name]; ok {
		return c
	}
	c = &stageCounter{}
	t.stages[name] = c
	return c
}

func (t *Tracker) Record(stage string, success int64, failed int64) {
	c := t.stage(stage)
	c.success.Add(success)
	c.failed.Add(failed)
}

// Snapshot returns a copy of all stage counters.
func (t *Tracker) Snapshot() map[string]StageSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]StageSnapshot, len(t.stages))
	for name, c := range t.stages {
		out[name] = StageSnapshot{Success: c.success.Load(), Failed: c.failed.Load()}
	}
	return out
}

// BulkSink adapts a tracker stage to the bulk processor's stats hook.
type BulkSink struct {
	Tracker *Tracker
	Stage   string
}

func (s *BulkSink) RecordBulk(success int64, failed int64) {
	s.Tracker.Record(s.Stage, success, failed)
}
