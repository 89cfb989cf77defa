package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const (
	maxWordsPerChunk = 380
	maxWordLength    = 600
)

// Split breaks text into chunks of at most 380 words each. Tokens of 600+
// characters are treated as noise (hashes, blobs) and dropped. Blank input,
// or input that is all noise, yields a single empty chunk; the result is
// never empty so callers can rely on chunk 1/n existing.
func Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}

	words := strings.Fields(text)
	var chunks []string
	var current strings.Builder
	wordCount := 0

	for _, word := range words {
		if len(word) >= maxWordLength {
			continue
		}
		if wordCount >= maxWordsPerChunk {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			wordCount = 0
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
		wordCount++
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}

// Fingerprint returns a stable digest of text used to detect content change
// without re-embedding. Empty input maps to the empty string, a distinguished
// "no content" marker that never collides with a real digest.
func Fingerprint(text string) string {
	if text == "" {
		return ""
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// BuildSearchableText concatenates the supplied fields into one blob suitable
// for chunking. Empty fields are skipped; every non-empty field appears
// verbatim in the output.
func BuildSearchableText(name, displayName, description, fullyQualifiedName string, tags, columnNames []string) string {
	var sb strings.Builder
	appendField(&sb, name)
	appendField(&sb, displayName)
	appendField(&sb, description)
	appendField(&sb, fullyQualifiedName)
	for _, tag := range tags {
		appendField(&sb, tag)
	}
	for _, col := range columnNames {
		appendField(&sb, col)
	}
	return strings.TrimSpace(sb.String())
}

func appendField(sb *strings.Builder, field string) {
	if field == "" {
		return
	}
	if sb.Len() > 0 {
		sb.WriteByte(' ')
	}
	sb.WriteString(field)
}
