package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// OpIndex creates or replaces a document.
	OpIndex = "index"
	// OpDelete removes a document.
	OpDelete = "delete"
)

// BulkOp is a single action destined for the bulk endpoint.
type BulkOp struct {
	Action string
	Index  string
	DocID  string
	Doc    map[string]interface{}
}

// BulkItemResult reports the per-document outcome of a bulk request.
type BulkItemResult struct {
	DocID  string
	Status int
	Err    string
}

func (r BulkItemResult) Failed() bool {
	return r.Err != "" || r.Status >= 400
}

// BulkWriter ships batches of operations to the search backend.
type BulkWriter interface {
	Bulk(ctx context.Context, ops []BulkOp) ([]BulkItemResult, error)
}

// IndexAdmin manages index lifecycle: creation, deletion, alias promotion
// and mapping inspection.
type IndexAdmin interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping map[string]interface{}) error
	DeleteIndex(ctx context.Context, name string) error
	GetMapping(ctx context.Context, name string) (map[string]interface{}, error)
	PromoteAlias(ctx context.Context, alias string, newIndex string, oldIndexes []string) error
	ResolveAlias(ctx context.Context, alias string) ([]string, error)
}

// DocStore covers the per-document and query surface the vector layer needs.
type DocStore interface {
	UpdateByQuery(ctx context.Context, index string, query map[string]interface{}, script string, params map[string]interface{}) error
	DeleteByQuery(ctx context.Context, index string, query map[string]interface{}) error
	Search(ctx context.Context, index string, body map[string]interface{}) (*SearchResult, error)
}

// Engine is the full search backend surface.
type Engine interface {
	BulkWriter
	IndexAdmin
	DocStore
}

// SearchResult is the subset of a search response the callers consume.
// Aggregations is the raw aggregations section, nil when the request had
// none.
type SearchResult struct {
	Total        int64
	Hits         []SearchHit
	Aggregations json.RawMessage
}

type SearchHit struct {
	ID     string
	Score  float64
	Source map[string]interface{}
}

type RestEngineConfig struct {
	Addr           string `json:"addr"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// restEngine speaks the Elasticsearch/OpenSearch REST dialect over plain
// HTTP. Both backends accept the same request shapes used here.
type restEngine struct {
	c    RestEngineConfig
	base string
	cli  *http.Client
}

func NewRestEngine(c RestEngineConfig) (Engine, error) {
	if len(c.Addr) == 0 {
		return nil, fmt.Errorf("search engine addr not set")
	}
	timeout := 30 * time.Second
	if c.TimeoutSeconds > 0 {
		timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	return &restEngine{
		c:    c,
		base: strings.TrimRight(c.Addr, "/"),
		cli:  &http.Client{Timeout: timeout},
	}, nil
}

func (e *restEngine) do(ctx context.Context, method string, path string, contentType string, body io.Reader, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.base+path, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if len(e.c.Username) > 0 {
		req.SetBasicAuth(e.c.Username, e.c.Password)
	}
	rsp, err := e.cli.Do(req)
	if err != nil {
		return 0, err
	}
	defer rsp.Body.Close()
	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return rsp.StatusCode, err
	}
	if rsp.StatusCode >= 400 {
		return rsp.StatusCode, fmt.Errorf("search engine: %s %s: status %d: %s", method, path, rsp.StatusCode, truncate(string(raw), 512))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return rsp.StatusCode, fmt.Errorf("search engine: decode response: %w", err)
		}
	}
	return rsp.StatusCode, nil
}

func (e *restEngine) doJSON(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	_, err := e.do(ctx, method, path, "application/json", rd, out)
	return err
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (e *restEngine) Bulk(ctx context.Context, ops []BulkOp) ([]BulkItemResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := map[string]map[string]string{
			op.Action: {"_index": op.Index, "_id": op.DocID},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if op.Action != OpDelete {
			if err := enc.Encode(op.Doc); err != nil {
				return nil, err
			}
		}
	}
	var rsp bulkResponse
	if _, err := e.do(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", &buf, &rsp); err != nil {
		return nil, err
	}
	results := make([]BulkItemResult, 0, len(rsp.Items))
	for _, item := range rsp.Items {
		for _, v := range item {
			res := BulkItemResult{DocID: v.ID, Status: v.Status}
			if v.Error != nil {
				res.Err = fmt.Sprintf("%s: %s", v.Error.Type, v.Error.Reason)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func (e *restEngine) IndexExists(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.base+"/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	if len(e.c.Username) > 0 {
		req.SetBasicAuth(e.c.Username, e.c.Password)
	}
	rsp, err := e.cli.Do(req)
	if err != nil {
		return false, err
	}
	defer rsp.Body.Close()
	io.Copy(io.Discard, rsp.Body)
	if rsp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if rsp.StatusCode >= 400 {
		return false, fmt.Errorf("search engine: head %s: status %d", name, rsp.StatusCode)
	}
	return true, nil
}

func (e *restEngine) CreateIndex(ctx context.Context, name string, mapping map[string]interface{}) error {
	return e.doJSON(ctx, http.MethodPut, "/"+url.PathEscape(name), mapping, nil)
}

func (e *restEngine) DeleteIndex(ctx context.Context, name string) error {
	return e.doJSON(ctx, http.MethodDelete, "/"+url.PathEscape(name), nil, nil)
}

func (e *restEngine) GetMapping(ctx context.Context, name string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := e.doJSON(ctx, http.MethodGet, "/"+url.PathEscape(name)+"/_mapping", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PromoteAlias atomically repoints the alias from oldIndexes to newIndex.
func (e *restEngine) PromoteAlias(ctx context.Context, alias string, newIndex string, oldIndexes []string) error {
	actions := make([]map[string]interface{}, 0, len(oldIndexes)+1)
	for _, old := range oldIndexes {
		actions = append(actions, map[string]interface{}{
			"remove": map[string]interface{}{"index": old, "alias": alias},
		})
	}
	actions = append(actions, map[string]interface{}{
		"add": map[string]interface{}{"index": newIndex, "alias": alias},
	})
	body := map[string]interface{}{"actions": actions}
	return e.doJSON(ctx, http.MethodPost, "/_aliases", body, nil)
}

func (e *restEngine) ResolveAlias(ctx context.Context, alias string) ([]string, error) {
	var out map[string]interface{}
	if err := e.doJSON(ctx, http.MethodGet, "/_alias/"+url.PathEscape(alias), nil, &out); err != nil {
		if strings.Contains(err.Error(), "status 404") {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	return names, nil
}

func (e *restEngine) UpdateByQuery(ctx context.Context, index string, query map[string]interface{}, script string, params map[string]interface{}) error {
	body := map[string]interface{}{
		"query": query,
		"script": map[string]interface{}{
			"source": script,
			"params": params,
			"lang":   "painless",
		},
	}
	return e.doJSON(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_update_by_query?conflicts=proceed", body, nil)
}

func (e *restEngine) DeleteByQuery(ctx context.Context, index string, query map[string]interface{}) error {
	body := map[string]interface{}{"query": query}
	return e.doJSON(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_delete_by_query?conflicts=proceed", body, nil)
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string                 `json:"_id"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations"`
}

func (e *restEngine) Search(ctx context.Context, index string, body map[string]interface{}) (*SearchResult, error) {
	var rsp searchResponse
	if err := e.doJSON(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", body, &rsp); err != nil {
		return nil, err
	}
	res := &SearchResult{Total: rsp.Hits.Total.Value, Aggregations: rsp.Aggregations}
	for _, h := range rsp.Hits.Hits {
		res.Hits = append(res.Hits, SearchHit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
