package vector

import "strings"

const (
	// IndexKey identifies the vector index in reindex working sets.
	IndexKey = "vectorEmbedding"
	// IndexName is the physical vector index (or its alias).
	IndexName = "vector_search_index"
)

var supportedTypes = map[string]struct{}{
	"table":              {},
	"glossary":           {},
	"glossaryterm":       {},
	"chart":              {},
	"dashboard":          {},
	"dashboarddatamodel": {},
	"database":           {},
	"databaseschema":     {},
	"dataproduct":        {},
	"pipeline":           {},
	"mlmodel":            {},
	"metric":             {},
	"apiendpoint":        {},
	"apicollection":      {},
	"page":               {},
	"storedprocedure":    {},
	"searchindex":        {},
	"topic":              {},
}

// IsSupportedType reports whether the entity type participates in vector
// indexing. Matching is case-insensitive.
func IsSupportedType(entityType string) bool {
	_, ok := supportedTypes[strings.ToLower(entityType)]
	return ok
}
