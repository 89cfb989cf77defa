package chunk

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// StripMarkup reduces a markdown (possibly HTML-bearing) description to plain
// prose before chunking, so formatting noise does not burn word budget.
func StripMarkup(markdown string) string {
	if markdown == "" {
		return ""
	}
	source := []byte(markdown)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(source))
			sb.WriteByte(' ')
		case *ast.FencedCodeBlock:
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				sb.Write(line.Value(source))
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	// Descriptions sometimes carry raw HTML that goldmark passes through.
	plain := htmlTagRe.ReplaceAllString(sb.String(), " ")
	return strings.Join(strings.Fields(plain), " ")
}
