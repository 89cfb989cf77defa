package vector

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/embedding"
	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/search"
)

const (
	overFetchMultiplier  = 2
	fingerprintCacheSize = 4096
	copyScrollSize       = 1000
)

// DimensionMismatchError reports a configured embedding model whose vector
// length disagrees with what the live index already stores. This is a hard
// error: mixing dimensions in one index corrupts similarity search.
type DimensionMismatchError struct {
	CurrentModel      string
	CurrentDimension  int
	RequiredModel     string
	RequiredDimension int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector index dimension mismatch: index has dimension %d, model %q requires %d (current model %q)",
		e.CurrentDimension, e.RequiredModel, e.RequiredDimension, e.CurrentModel)
}

type ServiceConfig struct {
	MaxBulkActions int   `json:"max_bulk_actions"`
	MaxBulkBytes   int64 `json:"max_bulk_bytes"`
}

// Service owns the vector index: per-entity embedding upserts, soft/hard
// deletes, similarity search and index lifecycle.
type Service struct {
	engine  search.Engine
	client  embedding.Client
	proc    *search.BulkProcessor
	fpCache *lru.Cache[string, string]
}

func NewService(engine search.Engine, client embedding.Client, cfg ServiceConfig, sink search.StatsSink) (*Service, error) {
	cache, err := lru.New[string, string](fingerprintCacheSize)
	if err != nil {
		return nil, err
	}
	proc := search.NewBulkProcessor(engine, search.BulkProcessorConfig{
		MaxActions:   cfg.MaxBulkActions,
		MaxSizeBytes: cfg.MaxBulkBytes,
	}, sink)
	return &Service{engine: engine, client: client, proc: proc, fpCache: cache}, nil
}

func (s *Service) Client() embedding.Client { return s.client }

func (s *Service) Processor() *search.BulkProcessor { return s.proc }

// UpdateVectorEmbeddings re-embeds one entity into targetIndex. When the
// content fingerprint matches what the index already holds, nothing is
// rewritten.
func (s *Service) UpdateVectorEmbeddings(ctx context.Context, ent *model.Entity, targetIndex string) error {
	parentID := ent.ID.String()
	current := ComputeFingerprint(ent)
	if cached, ok := s.fpCache.Get(parentID); ok && cached == current {
		return nil
	}
	if existing := s.existingFingerprint(ctx, targetIndex, parentID); existing == current {
		s.fpCache.Add(parentID, current)
		logutil.GetLogger(ctx).Debug("fingerprint unchanged, skip re-embedding", zap.String("parent_id", parentID))
		return nil
	}
	docs, err := BuildDocs(ctx, ent, s.client)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteByQuery(ctx, targetIndex, termQuery("parent_id", parentID)); err != nil {
		return err
	}
	if err := s.indexDocs(ctx, targetIndex, docs); err != nil {
		return err
	}
	if err := s.proc.Flush(ctx); err != nil {
		return err
	}
	s.fpCache.Add(parentID, current)
	return nil
}

// UpdateWithMigration populates targetIndex for one entity during a rebuild.
// When the entity's fingerprint matches what sourceIndex holds, the existing
// chunk documents are copied across instead of re-embedded. Copy failures
// fall back to recomputation.
func (s *Service) UpdateWithMigration(ctx context.Context, ent *model.Entity, targetIndex string, sourceIndex string, knownFingerprints map[string]string) error {
	parentID := ent.ID.String()
	current := ComputeFingerprint(ent)
	if sourceIndex != "" {
		existing, ok := knownFingerprints[parentID]
		if !ok {
			existing = s.existingFingerprint(ctx, sourceIndex, parentID)
		}
		if existing == current && existing != "" {
			copied, err := s.copyDocs(ctx, sourceIndex, targetIndex, parentID, current)
			if err != nil {
				logutil.GetLogger(ctx).Warn("migration copy failed, recomputing embeddings",
					zap.String("parent_id", parentID), zap.Error(err))
			} else if copied {
				return nil
			}
		}
	}
	docs, err := BuildDocs(ctx, ent, s.client)
	if err != nil {
		return err
	}
	return s.indexDocs(ctx, targetIndex, docs)
}

// ExistingFingerprints fetches fingerprints for a batch of parent ids in one
// collapsed query. Missing or failed lookups simply do not appear in the map.
func (s *Service) ExistingFingerprints(ctx context.Context, index string, parentIDs []string) map[string]string {
	out := make(map[string]string, len(parentIDs))
	if len(parentIDs) == 0 {
		return out
	}
	body := map[string]interface{}{
		"size":    len(parentIDs),
		"_source": []string{"parent_id", "fingerprint"},
		"query": map[string]interface{}{
			"terms": map[string]interface{}{"parent_id": parentIDs},
		},
		"collapse": map[string]interface{}{"field": "parent_id"},
	}
	res, err := s.engine.Search(ctx, index, body)
	if err != nil {
		logutil.GetLogger(ctx).Warn("batch fingerprint lookup failed", zap.String("index", index), zap.Error(err))
		return out
	}
	for _, hit := range res.Hits {
		pid, _ := hit.Source["parent_id"].(string)
		fp, _ := hit.Source["fingerprint"].(string)
		if pid != "" && fp != "" {
			out[pid] = fp
		}
	}
	return out
}

func (s *Service) existingFingerprint(ctx context.Context, index string, parentID string) string {
	body := map[string]interface{}{
		"size":    1,
		"_source": []string{"fingerprint"},
		"query":   termQuery("parent_id", parentID),
	}
	res, err := s.engine.Search(ctx, index, body)
	if err != nil || len(res.Hits) == 0 {
		return ""
	}
	fp, _ := res.Hits[0].Source["fingerprint"].(string)
	return fp
}

func (s *Service) copyDocs(ctx context.Context, sourceIndex string, targetIndex string, parentID string, fingerprint string) (bool, error) {
	body := map[string]interface{}{
		"size":  copyScrollSize,
		"query": termQuery("parent_id", parentID),
	}
	res, err := s.engine.Search(ctx, sourceIndex, body)
	if err != nil {
		return false, err
	}
	if len(res.Hits) == 0 {
		return false, nil
	}
	docs := make([]map[string]interface{}, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := hit.Source
		doc["fingerprint"] = fingerprint
		docs = append(docs, doc)
	}
	if err := s.indexDocs(ctx, targetIndex, docs); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) indexDocs(ctx context.Context, index string, docs []map[string]interface{}) error {
	for i, doc := range docs {
		parentID, _ := doc["parent_id"].(string)
		chunkIndex := i
		if v, ok := doc["chunk_index"].(int); ok {
			chunkIndex = v
		} else if v, ok := doc["chunk_index"].(float64); ok {
			chunkIndex = int(v)
		}
		op := search.BulkOp{
			Action: search.OpIndex,
			Index:  index,
			DocID:  DocID(parentID, chunkIndex),
			Doc:    doc,
		}
		if err := s.proc.Add(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces out anything buffered, for reindex finalization.
func (s *Service) Flush(ctx context.Context) error {
	return s.proc.Flush(ctx)
}

func (s *Service) SoftDelete(ctx context.Context, ent *model.Entity) error {
	s.fpCache.Remove(ent.ID.String())
	return s.engine.UpdateByQuery(ctx, IndexName,
		termQuery("parent_id", ent.ID.String()),
		"ctx._source.deleted = true", nil)
}

func (s *Service) HardDelete(ctx context.Context, ent *model.Entity) error {
	s.fpCache.Remove(ent.ID.String())
	return s.engine.DeleteByQuery(ctx, IndexName, termQuery("parent_id", ent.ID.String()))
}

func (s *Service) Restore(ctx context.Context, ent *model.Entity) error {
	s.fpCache.Remove(ent.ID.String())
	return s.engine.UpdateByQuery(ctx, IndexName,
		termQuery("parent_id", ent.ID.String()),
		"ctx._source.deleted = false", nil)
}

// SearchRequest is a semantic search over the vector index.
type SearchRequest struct {
	Query     string              `json:"query"`
	Size      int                 `json:"size"`
	K         int                 `json:"k"`
	Threshold float64             `json:"threshold"`
	Filters   map[string][]string `json:"filters"`
}

type SearchHit struct {
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// VectorSearch embeds the query text, over-fetches chunk hits and groups
// them by parent entity, returning chunks for at most req.Size parents.
func (s *Service) VectorSearch(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	vec, err := s.client.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	size := req.Size
	if size <= 0 {
		size = 10
	}
	k := req.K
	if k <= 0 {
		k = size * overFetchMultiplier
	}
	knn := map[string]interface{}{
		"embedding": map[string]interface{}{
			"vector": vec,
			"k":      k,
		},
	}
	// soft-deleted chunks stay in the index but never surface in results
	filters := append(buildFilters(req.Filters), map[string]interface{}{
		"term": map[string]interface{}{"deleted": false},
	})
	query := map[string]interface{}{
		"bool": map[string]interface{}{
			"must":   []interface{}{map[string]interface{}{"knn": knn}},
			"filter": filters,
		},
	}
	body := map[string]interface{}{
		"size":  size * overFetchMultiplier,
		"query": query,
	}
	res, err := s.engine.Search(ctx, IndexName, body)
	if err != nil {
		return nil, err
	}

	type group struct {
		parentID string
		hits     []SearchHit
	}
	order := make([]string, 0, len(res.Hits))
	byParent := make(map[string]*group)
	for _, hit := range res.Hits {
		if hit.Score < req.Threshold {
			continue
		}
		parentID, _ := hit.Source["parent_id"].(string)
		if parentID == "" {
			continue
		}
		g, ok := byParent[parentID]
		if !ok {
			g = &group{parentID: parentID}
			byParent[parentID] = g
			order = append(order, parentID)
		}
		g.hits = append(g.hits, SearchHit{Score: hit.Score, Source: hit.Source})
	}
	var out []SearchHit
	for i, pid := range order {
		if i >= size {
			break
		}
		out = append(out, byParent[pid].hits...)
	}
	return out, nil
}

func buildFilters(filters map[string][]string) []interface{} {
	if len(filters) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(filters))
	for field, values := range filters {
		if len(values) == 0 {
			continue
		}
		out = append(out, map[string]interface{}{
			"terms": map[string]interface{}{field: values},
		})
	}
	return out
}

// EnsureIndex creates the vector index when missing, and verifies the stored
// embedding dimension against the configured model when it exists.
func (s *Service) EnsureIndex(ctx context.Context) error {
	exists, err := s.engine.IndexExists(ctx, IndexName)
	if err != nil {
		return err
	}
	if !exists {
		// IndexName must stay an alias so a reindex run can swap in its
		// staging index; creating a concrete index under that name would
		// make the later alias promotion fail.
		physical := IndexName + "_000001"
		if err := s.engine.CreateIndex(ctx, physical, IndexMapping(s.client.Dimension())); err != nil {
			return err
		}
		return s.engine.PromoteAlias(ctx, IndexName, physical, nil)
	}
	mapping, err := s.engine.GetMapping(ctx, IndexName)
	if err != nil {
		return err
	}
	dim := extractDimension(mapping)
	if dim > 0 && dim != s.client.Dimension() {
		return &DimensionMismatchError{
			CurrentDimension:  dim,
			RequiredModel:     s.client.ModelID(),
			RequiredDimension: s.client.Dimension(),
		}
	}
	return nil
}

// IndexMapping is the vector index schema parameterized by dimension.
func IndexMapping(dimension int) map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{
				"knn": true,
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"parent_id":     map[string]interface{}{"type": "keyword"},
				"sourceId":      map[string]interface{}{"type": "keyword"},
				"entityType":    map[string]interface{}{"type": "keyword"},
				"fingerprint":   map[string]interface{}{"type": "keyword"},
				"deleted":       map[string]interface{}{"type": "boolean"},
				"chunk_index":   map[string]interface{}{"type": "integer"},
				"chunk_count":   map[string]interface{}{"type": "integer"},
				"text_to_embed": map[string]interface{}{"type": "text"},
				"embedding": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dimension,
				},
			},
		},
	}
}

// extractDimension walks a get-mapping response down to
// <index>.mappings.properties.embedding.dimension.
func extractDimension(mapping map[string]interface{}) int {
	for _, idx := range mapping {
		m, ok := idx.(map[string]interface{})
		if !ok {
			continue
		}
		mappings, _ := m["mappings"].(map[string]interface{})
		props, _ := mappings["properties"].(map[string]interface{})
		emb, _ := props["embedding"].(map[string]interface{})
		switch v := emb["dimension"].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

func termQuery(field string, value string) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}
