package planner

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"

	"github.com/whitemike889/federation-planner/federation/graph"
)

// Serialize renders a QueryPlan in the stable textual form used by tests
// and snapshots: `QueryPlan { <node> }`, with Fetch/Flatten/Sequence/
// Parallel nodes nested as described in the plan tree. Every Fetch's
// selection set is factored through a single fragmentFactorizer shared
// across the whole plan, so __QueryPlanFragment_N__ names are unique and
// monotonically increasing across every Fetch in the plan.
func Serialize(sg *graph.SuperGraph, plan *QueryPlan) string {
	if plan == nil || plan.Node == nil {
		return "QueryPlan {  }"
	}
	factorizer := newFragmentFactorizer(func(parentType, fieldName string) string {
		return fieldTypeName(sg, parentType, fieldName)
	})
	var sb strings.Builder
	sb.WriteString("QueryPlan { ")
	writeNode(&sb, plan.Node, factorizer)
	sb.WriteString(" }")
	return sb.String()
}

func writeNode(sb *strings.Builder, node planNode, f *fragmentFactorizer) {
	switch n := node.(type) {
	case *Fetch:
		writeFetch(sb, n, f)
	case *Flatten:
		fmt.Fprintf(sb, "Flatten(path: %q) { ", strings.Join(n.Path, "."))
		writeNode(sb, n.Node, f)
		sb.WriteString(" }")
	case *Sequence:
		sb.WriteString("Sequence { ")
		writeNodeList(sb, n.Nodes, f)
		sb.WriteString(" }")
	case *Parallel:
		sb.WriteString("Parallel { ")
		writeNodeList(sb, n.Nodes, f)
		sb.WriteString(" }")
	}
}

func writeNodeList(sb *strings.Builder, nodes []planNode, f *fragmentFactorizer) {
	for i, n := range nodes {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeNode(sb, n, f)
	}
}

func writeFetch(sb *strings.Builder, n *Fetch, f *fragmentFactorizer) {
	fmt.Fprintf(sb, "Fetch(service: %q) { ", n.ServiceName)

	if n.Requires != nil {
		sb.WriteString("requires: { ")
		writeSelectionSet(sb, orderSelections(n.Requires.KeyFields))
		sb.WriteString(" } => ")
	}

	f.Reset()
	selections, fragments := f.Factorize(orderSelections(n.Selections), n.ParentType)
	writeSelectionSet(sb, selections)

	for _, frag := range fragments {
		sb.WriteString(" fragment ")
		sb.WriteString(frag.Name.String())
		sb.WriteString(" on ")
		sb.WriteString(frag.TypeCondition.Name.String())
		sb.WriteString(" ")
		writeSelectionSet(sb, orderSelections(frag.SelectionSet))
	}

	sb.WriteString(" }")
}

// orderSelections returns selections in canonical order: __typename first,
// then remaining fields in insertion order, then inline fragments.
func orderSelections(selections []ast.Selection) []ast.Selection {
	var typename ast.Selection
	var fields []ast.Selection
	var inlineFrags []ast.Selection

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name.String() == "__typename" {
				typename = s
				continue
			}
			fields = append(fields, s)
		case *ast.InlineFragment:
			inlineFrags = append(inlineFrags, s)
		default:
			fields = append(fields, sel)
		}
	}

	result := make([]ast.Selection, 0, len(selections))
	if typename != nil {
		result = append(result, typename)
	}
	result = append(result, fields...)
	result = append(result, inlineFrags...)
	return result
}

func writeSelectionSet(sb *strings.Builder, selections []ast.Selection) {
	sb.WriteString("{ ")
	for i, sel := range selections {
		if i > 0 {
			sb.WriteString(" ")
		}
		writeSelection(sb, sel)
	}
	sb.WriteString(" }")
}

func writeSelection(sb *strings.Builder, sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(s.Name.String())
		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				writeValue(sb, arg.Value)
			}
			sb.WriteString(")")
		}
		if len(s.SelectionSet) > 0 {
			sb.WriteString(" ")
			writeSelectionSet(sb, orderSelections(s.SelectionSet))
		}
	case *ast.InlineFragment:
		sb.WriteString("... on ")
		sb.WriteString(s.TypeCondition.Name.String())
		sb.WriteString(" ")
		writeSelectionSet(sb, orderSelections(s.SelectionSet))
	case *ast.FragmentSpread:
		sb.WriteString("...")
		sb.WriteString(s.Name.String())
	}
}

func writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		fmt.Fprintf(sb, "%q", v.Value)
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%v", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(": ")
			writeValue(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}
