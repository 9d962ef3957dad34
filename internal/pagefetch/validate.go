package pagefetch

import (
	"fmt"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// ValidateStructure AST-walks the assembled page Markdown and reports
// structural warnings (missing/duplicate H1, skipped heading levels).
// Unlike the page's content, these warnings never block a write — they
// are observational, surfaced through the job's event log only.
func ValidateStructure(content []byte) []string {
	var warnings []string

	p := parser.New()
	doc := markdown.Parse(content, p)

	var headings []*ast.Heading
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if h, ok := node.(*ast.Heading); ok && entering {
			headings = append(headings, h)
		}
		return ast.GoToNext
	})

	h1Count := 0
	for _, h := range headings {
		if h.Level == 1 {
			h1Count++
		}
	}
	if h1Count == 0 {
		warnings = append(warnings, "no H1 heading found")
	} else if h1Count > 1 {
		warnings = append(warnings, fmt.Sprintf("%d H1 headings found, expected one", h1Count))
	}

	prevLevel := 0
	for _, h := range headings {
		if prevLevel != 0 && h.Level > prevLevel+1 {
			warnings = append(warnings, fmt.Sprintf("heading level skipped: H%d follows H%d", h.Level, prevLevel))
		}
		prevLevel = h.Level
	}

	return warnings
}
