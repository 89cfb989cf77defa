package reindex

import (
	"fmt"
	"sort"
	"sync"
)

// TypeResult records what happened to one working-set entry during a run.
type TypeResult struct {
	Staging string `json:"staging"`
	Success int64  `json:"success"`
	Failed  int64  `json:"failed"`
	Err     string `json:"err,omitempty"`
}

// Context is the per-run working state: the set of index keys being rebuilt,
// the staging index name derived for each, and per-key outcomes. It lives
// from run start to finalize and is owned by the runner goroutine; Results
// mutation is still locked because population code may fan out.
type Context struct {
	RunID string
	Keys  []string

	mu      sync.Mutex
	results map[string]*TypeResult
}

func NewContext(runID string, keys []string) *Context {
	return &Context{
		RunID:   runID,
		Keys:    keys,
		results: make(map[string]*TypeResult, len(keys)),
	}
}

// StagingName derives the out-of-place build target for an index.
func (c *Context) StagingName(indexName string) string {
	return fmt.Sprintf("%s_rebuild_%s", indexName, c.RunID)
}

func (c *Context) result(key string) *TypeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[key]
	if !ok {
		r = &TypeResult{}
		c.results[key] = r
	}
	return r
}

func (c *Context) SetStaging(key string, staging string) {
	c.result(key).Staging = staging
}

func (c *Context) Staging(key string) string {
	return c.result(key).Staging
}

func (c *Context) AddCounts(key string, success int64, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[key]
	if !ok {
		r = &TypeResult{}
		c.results[key] = r
	}
	r.Success += success
	r.Failed += failed
}

// Fail marks a key as failed. Other keys keep going; the failure surfaces in
// the run summary.
func (c *Context) Fail(key string, err error) {
	c.result(key).Err = err.Error()
}

func (c *Context) Failed(key string) bool {
	return c.result(key).Err != ""
}

// Results returns a copy keyed by working-set entry.
func (c *Context) Results() map[string]TypeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TypeResult, len(c.results))
	for k, v := range c.results {
		out[k] = *v
	}
	return out
}

// Totals sums success/failure across all keys.
func (c *Context) Totals() (int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var success, failed int64
	for _, r := range c.results {
		success += r.Success
		failed += r.Failed
	}
	return success, failed
}

// FailedKeys lists keys that recorded an error, sorted for stable summaries.
func (c *Context) FailedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k, r := range c.results {
		if r.Err != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
