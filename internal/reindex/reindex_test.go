package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/pkg/errors"
	"github.com/xxxsen/metasearch/internal/search"
	"github.com/xxxsen/metasearch/internal/vector"
)

type memEngine struct {
	mu       sync.Mutex
	bulkOps  []search.BulkOp
	created  []string
	deleted  []string
	promoted map[string]string
	aliases  map[string][]string
}

func newMemEngine() *memEngine {
	return &memEngine{promoted: map[string]string{}, aliases: map[string][]string{}}
}

func (e *memEngine) Bulk(ctx context.Context, ops []search.BulkOp) ([]search.BulkItemResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bulkOps = append(e.bulkOps, ops...)
	results := make([]search.BulkItemResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, search.BulkItemResult{DocID: op.DocID, Status: 200})
	}
	return results, nil
}

func (e *memEngine) IndexExists(ctx context.Context, name string) (bool, error) { return false, nil }

func (e *memEngine) CreateIndex(ctx context.Context, name string, mapping map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, name)
	return nil
}

func (e *memEngine) DeleteIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, name)
	return nil
}

func (e *memEngine) GetMapping(ctx context.Context, name string) (map[string]interface{}, error) {
	return nil, nil
}

func (e *memEngine) PromoteAlias(ctx context.Context, alias string, newIndex string, oldIndexes []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promoted[alias] = newIndex
	return nil
}

func (e *memEngine) ResolveAlias(ctx context.Context, alias string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aliases[alias], nil
}

func (e *memEngine) UpdateByQuery(ctx context.Context, index string, query map[string]interface{}, script string, params map[string]interface{}) error {
	return nil
}

func (e *memEngine) DeleteByQuery(ctx context.Context, index string, query map[string]interface{}) error {
	return nil
}

func (e *memEngine) Search(ctx context.Context, index string, body map[string]interface{}) (*search.SearchResult, error) {
	return &search.SearchResult{}, nil
}

type memSource struct {
	entities map[string][]*model.Entity
}

func (s *memSource) ListEntities(ctx context.Context, entityType string, cursor string, limit int) ([]*model.Entity, string, error) {
	return s.entities[entityType], "", nil
}

type memEmbedder struct{ dim int }

func (f *memEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f *memEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *memEmbedder) Dimension() int  { return f.dim }
func (f *memEmbedder) ModelID() string { return "mem-model" }
func (f *memEmbedder) Close() error    { return nil }

func sampleEntities(entityType string, n int) []*model.Entity {
	out := make([]*model.Entity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &model.Entity{
			ID:          uuid.New(),
			Type:        entityType,
			Name:        fmt.Sprintf("%s-%d", entityType, i),
			Description: "sample description",
		})
	}
	return out
}

func TestStagingNameFormat(t *testing.T) {
	rc := NewContext("run123", []string{"table"})
	require.Equal(t, "table_search_index_rebuild_run123", rc.StagingName(IndexNameFor("table")))
}

func TestDefaultHandlerRecreateAndPromote(t *testing.T) {
	eng := newMemEngine()
	eng.aliases["table_search_index"] = []string{"table_search_index_rebuild_old"}
	src := &memSource{entities: map[string][]*model.Entity{"table": sampleEntities("table", 5)}}
	h := NewDefaultHandler(eng, src, DefaultHandlerConfig{}, nil)
	rc := NewContext("r1", h.WorkingSet([]string{"table"}))
	ctx := context.Background()

	require.NoError(t, h.Recreate(ctx, rc, "table"))
	require.Equal(t, []string{"table_search_index_rebuild_r1"}, eng.created)
	require.Len(t, eng.bulkOps, 5)
	res := rc.Results()["table"]
	require.Equal(t, int64(5), res.Success)
	require.Equal(t, int64(0), res.Failed)

	require.NoError(t, h.Promote(ctx, rc, "table"))
	require.Equal(t, "table_search_index_rebuild_r1", eng.promoted["table_search_index"])
	require.Equal(t, []string{"table_search_index_rebuild_old"}, eng.deleted)
}

func TestWithEmbeddingsAddsVectorKeyWhenEnabled(t *testing.T) {
	eng := newMemEngine()
	svc, err := vector.NewService(eng, &memEmbedder{dim: 8}, vector.ServiceConfig{}, nil)
	require.NoError(t, err)
	src := &memSource{entities: map[string][]*model.Entity{}}
	base := NewDefaultHandler(eng, src, DefaultHandlerConfig{}, nil)
	h := NewWithEmbeddings(base, eng, svc, src, 0)
	keys := h.WorkingSet([]string{"table", "topic"})
	require.Equal(t, []string{"table", "topic", vector.IndexKey}, keys)
}

func TestWithEmbeddingsNoServiceNeverAddsVectorKey(t *testing.T) {
	eng := newMemEngine()
	src := &memSource{entities: map[string][]*model.Entity{}}
	base := NewDefaultHandler(eng, src, DefaultHandlerConfig{}, nil)
	h := NewWithEmbeddings(base, eng, nil, src, 0)
	keys := h.WorkingSet([]string{"table", "topic"})
	require.NotContains(t, keys, vector.IndexKey)

	// even a stray vector key in the working set is skipped cleanly
	rc := NewContext("r1", append(keys, vector.IndexKey))
	require.NoError(t, h.Recreate(context.Background(), rc, vector.IndexKey))
	require.NoError(t, h.Promote(context.Background(), rc, vector.IndexKey))
	require.Empty(t, eng.created)
	require.Empty(t, eng.promoted)
}

func TestWithEmbeddingsPopulatesVectorIndex(t *testing.T) {
	eng := newMemEngine()
	svc, err := vector.NewService(eng, &memEmbedder{dim: 8}, vector.ServiceConfig{}, nil)
	require.NoError(t, err)
	src := &memSource{entities: map[string][]*model.Entity{
		"table": sampleEntities("table", 3),
	}}
	base := NewDefaultHandler(eng, src, DefaultHandlerConfig{}, nil)
	h := NewWithEmbeddings(base, eng, svc, src, 0)
	rc := NewContext("r2", h.WorkingSet([]string{"table"}))
	ctx := context.Background()

	require.NoError(t, h.Recreate(ctx, rc, vector.IndexKey))
	staging := rc.Staging(vector.IndexKey)
	require.Equal(t, "vector_search_index_rebuild_r2", staging)
	require.Contains(t, eng.created, staging)
	// one chunk per sample entity
	var vectorOps int
	for _, op := range eng.bulkOps {
		if op.Index == staging {
			vectorOps++
		}
	}
	require.Equal(t, 3, vectorOps)
}

func TestWithEmbeddingsRunCountsAreNotCumulative(t *testing.T) {
	eng := newMemEngine()
	svc, err := vector.NewService(eng, &memEmbedder{dim: 8}, vector.ServiceConfig{}, nil)
	require.NoError(t, err)
	src := &memSource{entities: map[string][]*model.Entity{
		"table": sampleEntities("table", 3),
	}}
	base := NewDefaultHandler(eng, src, DefaultHandlerConfig{}, nil)
	h := NewWithEmbeddings(base, eng, svc, src, 0)
	ctx := context.Background()

	rc1 := NewContext("r1", h.WorkingSet([]string{"table"}))
	require.NoError(t, h.Recreate(ctx, rc1, vector.IndexKey))
	require.Equal(t, int64(3), rc1.Results()[vector.IndexKey].Success)

	// the vector service and its bulk processor outlive individual runs;
	// a second run must report its own counts, not the lifetime totals
	rc2 := NewContext("r2", h.WorkingSet([]string{"table"}))
	require.NoError(t, h.Recreate(ctx, rc2, vector.IndexKey))
	require.Equal(t, int64(3), rc2.Results()[vector.IndexKey].Success)
	require.Equal(t, int64(0), rc2.Results()[vector.IndexKey].Failed)
}

type scriptedHandler struct {
	mu        sync.Mutex
	recreated []string
	promoted  []string
	finalized int
	failOn    string
}

func (h *scriptedHandler) WorkingSet(types []string) []string { return types }

func (h *scriptedHandler) Recreate(ctx context.Context, rc *Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recreated = append(h.recreated, key)
	if key == h.failOn {
		return fmt.Errorf("recreate %s boom", key)
	}
	return nil
}

func (h *scriptedHandler) Promote(ctx context.Context, rc *Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.promoted = append(h.promoted, key)
	return nil
}

func (h *scriptedHandler) Finalize(ctx context.Context, rc *Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized++
}

func waitForRun(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	block := make(chan struct{})
	h := &blockingHandler{block: block}
	r := NewRunner(h, nil)
	ctx := context.Background()

	runID, err := r.Trigger(ctx, []string{"table"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	require.True(t, r.IsRunning())

	_, err = r.Trigger(ctx, []string{"topic"})
	require.ErrorIs(t, err, errors.ErrRunning)

	close(block)
	waitForRun(t, r)

	// a finished runner accepts the next trigger
	_, err = r.Trigger(ctx, []string{"topic"})
	require.NoError(t, err)
	waitForRun(t, r)
}

type blockingHandler struct {
	block chan struct{}
}

func (h *blockingHandler) WorkingSet(types []string) []string { return types }

func (h *blockingHandler) Recreate(ctx context.Context, rc *Context, key string) error {
	<-h.block
	return nil
}

func (h *blockingHandler) Promote(ctx context.Context, rc *Context, key string) error { return nil }
func (h *blockingHandler) Finalize(ctx context.Context, rc *Context)                  {}

func TestRunnerFailureIsolationAndSummary(t *testing.T) {
	h := &scriptedHandler{failOn: "topic"}
	r := NewRunner(h, nil)

	runID, err := r.Trigger(context.Background(), []string{"table", "topic", "chart"})
	require.NoError(t, err)
	waitForRun(t, r)

	// failing type still lets siblings recreate and promote
	require.Equal(t, []string{"table", "topic", "chart"}, h.recreated)
	require.Equal(t, []string{"table", "chart"}, h.promoted)
	require.Equal(t, 1, h.finalized)

	run := r.LastRun()
	require.NotNil(t, run)
	require.Equal(t, runID, run.RunID)
	require.Equal(t, model.ReindexRunStateFailed, run.State)
	require.Contains(t, run.Summary, "topic")
	require.NotZero(t, run.FinishedAt)
}

func TestLastRunIsSnapshotNotSharedWithRunGoroutine(t *testing.T) {
	block := make(chan struct{})
	h := &blockingHandler{block: block}
	r := NewRunner(h, nil)

	_, err := r.Trigger(context.Background(), []string{"table"})
	require.NoError(t, err)

	observed := r.LastRun()
	require.Equal(t, model.ReindexRunStateRunning, observed.State)

	// keep readers marshaling run state while the run goroutine finishes
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = json.Marshal(r.LastRun())
		}
	}()
	close(block)
	waitForRun(t, r)
	<-done

	// the pointer handed out mid-run stays frozen; completion publishes a
	// fresh snapshot instead of mutating it
	require.Equal(t, model.ReindexRunStateRunning, observed.State)
	require.Zero(t, observed.FinishedAt)
	require.Equal(t, model.ReindexRunStateCompleted, r.LastRun().State)
}

func TestRunnerCompletedState(t *testing.T) {
	h := &scriptedHandler{}
	r := NewRunner(h, nil)
	_, err := r.Trigger(context.Background(), []string{"table"})
	require.NoError(t, err)
	waitForRun(t, r)
	require.Equal(t, model.ReindexRunStateCompleted, r.LastRun().State)
}
