package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	AggTypeTerms       = "terms"
	AggTypeMax         = "max"
	AggTypeBucketSort  = "bucket_sort"
	AggTypeStatsBucket = "stats_bucket"
)

const (
	defaultUnpagedTermsSize = 100
	timestampField          = "timestamp"
)

// AggregationNode is a backend-agnostic aggregation tree. Downstream code
// renders it into the concrete request body via Render.
type AggregationNode struct {
	Type     string
	Name     string
	Params   map[string]string
	Children []*AggregationNode
}

// AggregationRequest groups the build inputs. GroupBy is the field whose
// distinct values become buckets; ContentFilter is an opaque filter string
// passed through to the query executor; Limit and Offset page over groups.
type AggregationRequest struct {
	GroupBy       string
	ContentFilter string
	Limit         *int
	Offset        *int
	MaxAggSize    int
}

// BuildAggregationNodes assembles the grouped-query aggregation tree.
//
// Without a limit a single terms aggregation with a small default size is
// enough. With a limit the terms aggregation must see every bucket
// (MaxAggSize) so its bucket_sort child can slice an exact page, and a
// second full-size terms aggregation feeds a stats_bucket that reports the
// true post-filter group count. Slicing and counting cannot share one terms
// aggregation: bucket_sort discards the buckets the count needs.
func BuildAggregationNodes(req AggregationRequest) []*AggregationNode {
	byTermsSize := defaultUnpagedTermsSize
	if req.Limit != nil {
		byTermsSize = req.MaxAggSize
	}
	byTerms := &AggregationNode{
		Type: AggTypeTerms,
		Name: "byTerms",
		Params: map[string]string{
			"field": req.GroupBy,
			"size":  strconv.Itoa(byTermsSize),
		},
	}
	nodes := []*AggregationNode{byTerms}
	if req.Limit == nil {
		return nodes
	}
	size := *req.Limit
	if size > req.MaxAggSize {
		size = req.MaxAggSize
	}
	offset := 0
	if req.Offset != nil {
		offset = *req.Offset
	}
	byTerms.Children = append(byTerms.Children, &AggregationNode{
		Type: AggTypeBucketSort,
		Name: "bucketSort",
		Params: map[string]string{
			"size": strconv.Itoa(size),
			"from": strconv.Itoa(offset),
		},
	})
	byTermsCount := &AggregationNode{
		Type: AggTypeTerms,
		Name: "byTermsCount",
		Params: map[string]string{
			"field": req.GroupBy,
			"size":  strconv.Itoa(req.MaxAggSize),
		},
		Children: []*AggregationNode{
			{
				Type:   AggTypeMax,
				Name:   "max_timestamp",
				Params: map[string]string{"field": timestampField},
			},
		},
	}
	totalCount := &AggregationNode{
		Type: AggTypeStatsBucket,
		Name: "total_bucket_count",
		Params: map[string]string{
			"buckets_path": "byTermsCount>max_timestamp",
		},
	}
	return append(nodes, byTermsCount, totalCount)
}

// Render turns a node list into the aggregations section of a search body.
func Render(nodes []*AggregationNode) map[string]interface{} {
	out := make(map[string]interface{}, len(nodes))
	for _, n := range nodes {
		out[n.Name] = renderNode(n)
	}
	return out
}

func renderNode(n *AggregationNode) map[string]interface{} {
	params := make(map[string]interface{}, len(n.Params))
	for k, v := range n.Params {
		// size/from are numeric in the wire format.
		if k == "size" || k == "from" {
			if iv, err := strconv.Atoi(v); err == nil {
				params[k] = iv
				continue
			}
		}
		params[k] = v
	}
	node := map[string]interface{}{
		n.Type: params,
	}
	if len(n.Children) > 0 {
		aggs := make(map[string]interface{}, len(n.Children))
		for _, c := range n.Children {
			aggs[c.Name] = renderNode(c)
		}
		node["aggs"] = aggs
	}
	return node
}

// RunAggregation executes the grouped query against an index and returns the
// raw aggregations section. The hit list is suppressed; only buckets matter.
func RunAggregation(ctx context.Context, store DocStore, index string, req AggregationRequest) (json.RawMessage, error) {
	body := map[string]interface{}{
		"size": 0,
		"aggs": Render(BuildAggregationNodes(req)),
	}
	if req.ContentFilter != "" {
		body["query"] = map[string]interface{}{
			"query_string": map[string]interface{}{
				"query": req.ContentFilter,
			},
		}
	}
	res, err := store.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("aggregate on %s: %w", index, err)
	}
	return res.Aggregations, nil
}

// RenderJSON is a convenience for logging/tests.
func RenderJSON(nodes []*AggregationNode) (string, error) {
	raw, err := json.Marshal(Render(nodes))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
