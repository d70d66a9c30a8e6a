package planner_test

import (
	"testing"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"

	"github.com/whitemike889/federation-planner/federation/graph"
)

func parseQuery(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	return doc
}

func newSubGraph(t *testing.T, name, schema, host string) *graph.SubGraph {
	t.Helper()
	sg, err := graph.NewSubGraph(name, []byte(schema), host)
	if err != nil {
		t.Fatalf("NewSubGraph(%s): %v", name, err)
	}
	return sg
}

func newSuperGraph(t *testing.T, sgs ...*graph.SubGraph) *graph.SuperGraph {
	t.Helper()
	sg, err := graph.NewSuperGraph(sgs)
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}
	return sg
}

// topLevelFieldNames returns the field (or alias) names selected at the top
// of a selection set, ignoring __typename and nested structure.
func topLevelFieldNames(selections []ast.Selection) []string {
	var names []string
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		if field.Alias != nil && field.Alias.String() != "" {
			name = field.Alias.String()
		}
		names = append(names, name)
	}
	return names
}

func containsAll(names []string, want ...string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
