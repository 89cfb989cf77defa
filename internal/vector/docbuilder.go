package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/metasearch/internal/chunk"
	"github.com/xxxsen/metasearch/internal/embedding"
	"github.com/xxxsen/metasearch/internal/model"
)

const (
	emptyFieldMarker  = "[]"
	continuedChunkTag = "description (continued): "
	tierTagPrefix     = "Tier."
)

// BuildDocs turns one entity into its per-chunk vector documents: meta +
// body text, chunk the body, embed every chunk text, and emit one document
// per chunk keyed by parent id and chunk index.
func BuildDocs(ctx context.Context, ent *model.Entity, client embedding.Client) ([]map[string]interface{}, error) {
	parentID := ent.ID.String()
	meta := buildMetaText(ent)
	body := buildBodyText(ent)
	fingerprint := chunk.Fingerprint(meta + "|" + body)

	chunks := chunk.Split(body)
	texts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		contTag := ""
		if i > 0 {
			contTag = continuedChunkTag
		}
		texts = append(texts, fmt.Sprintf("%s%s%s | chunk %d/%d", meta, contTag, c, i+1, len(chunks)))
	}
	vectors, err := client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	tags, tier := splitTierTag(ent.Tags)
	docs := make([]map[string]interface{}, 0, len(chunks))
	for i := range chunks {
		doc := map[string]interface{}{
			"parent_id":          parentID,
			"sourceId":           parentID,
			"entityType":         ent.Type,
			"fullyQualifiedName": ent.FullyQualifiedName,
			"name":               ent.Name,
			"displayName":        ent.DisplayName,
			"serviceType":        ent.ServiceType,
			"deleted":            ent.Deleted,
			"fingerprint":        fingerprint,
			"chunk_index":        i,
			"chunk_count":        len(chunks),
			"text_to_embed":      texts[i],
			"embedding":          vectors[i],
			"tags":               tags,
			"owners":             ownerDocs(ent.Owners),
		}
		if tier != "" {
			doc["tier"] = tier
		}
		if len(ent.ColumnNames) > 0 {
			doc["columns"] = ent.ColumnNames
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ComputeFingerprint yields the entity's content fingerprint without
// embedding anything, for cheap change detection.
func ComputeFingerprint(ent *model.Entity) string {
	return chunk.Fingerprint(buildMetaText(ent) + "|" + buildBodyText(ent))
}

// DocID is the upsert key of one chunk document.
func DocID(parentID string, chunkIndex int) string {
	return fmt.Sprintf("%s-%d", parentID, chunkIndex)
}

func buildMetaText(ent *model.Entity) string {
	tags, tier := splitTierTag(ent.Tags)
	owners := make([]string, 0, len(ent.Owners))
	for _, o := range ent.Owners {
		if o.Type != "" && o.Name != "" {
			owners = append(owners, strings.ToLower(o.Type)+"."+o.Name)
			continue
		}
		if o.Name != "" {
			owners = append(owners, o.Name)
		}
	}
	parts := []string{
		"name: " + orEmpty(ent.Name),
		"displayName: " + orEmpty(ent.DisplayName),
		"entityType: " + ent.Type,
		"serviceType: " + orEmpty(ent.ServiceType),
		"fullyQualifiedName: " + orEmpty(ent.FullyQualifiedName),
		"tier: " + orEmpty(tier),
		"tags: " + joinOrEmpty(tags),
		"owners: " + joinOrEmpty(owners),
	}
	return strings.Join(parts, "; ") + " | "
}

func buildBodyText(ent *model.Entity) string {
	parts := []string{
		"description: " + orEmpty(chunk.StripMarkup(ent.Description)),
	}
	if len(ent.ColumnNames) > 0 {
		parts = append(parts, "columns: "+strings.Join(ent.ColumnNames, ", "))
	}
	return strings.Join(parts, "; ")
}

func splitTierTag(tags []string) ([]string, string) {
	rest := make([]string, 0, len(tags))
	tier := ""
	for _, t := range tags {
		if strings.HasPrefix(t, tierTagPrefix) {
			tier = t
			continue
		}
		rest = append(rest, t)
	}
	return rest, tier
}

func ownerDocs(owners []model.OwnerRef) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(owners))
	for _, o := range owners {
		out = append(out, map[string]interface{}{
			"id":          o.ID,
			"name":        o.Name,
			"type":        o.Type,
			"displayName": o.DisplayName,
		})
	}
	return out
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyFieldMarker
	}
	return s
}

func joinOrEmpty(items []string) string {
	if len(items) == 0 {
		return emptyFieldMarker
	}
	return strings.Join(items, ", ")
}
