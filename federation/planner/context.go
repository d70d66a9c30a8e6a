package planner

import (
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"

	"github.com/whitemike889/federation-planner/federation/graph"
)

// OperationContext is the resolved, fragment-free view of the operation
// Plan will split: the chosen OperationDefinition, its root type, and its
// top-level selections with every fragment spread already replaced by an
// inline fragment on the fragment's type condition.
type OperationContext struct {
	Operation     *ast.OperationDefinition
	OperationType string
	RootTypeName  string
	Variables     []*ast.VariableDefinition
	SelectionSet  []ast.Selection
}

// NewOperationContext resolves which operation in doc to plan (raising
// NO_MATCHING_OPERATION / AMBIGUOUS_OPERATION per operationName) and
// inlines its fragment spreads.
func NewOperationContext(sg *graph.SuperGraph, doc *ast.Document, operationName string) (*OperationContext, *PlannerError) {
	ops := collectOperations(doc)
	if len(ops) == 0 {
		return nil, newPlannerError(ErrNoMatchingOperation, nil, "document contains no operations")
	}

	op, perr := selectOperation(ops, operationName)
	if perr != nil {
		return nil, perr
	}

	if len(op.SelectionSet) == 0 {
		return nil, newPlannerError(ErrOperationValidation, nil, "operation has an empty selection set")
	}

	rootTypeName, err := rootTypeNameFor(sg, op)
	if err != nil {
		return nil, newPlannerError(ErrSchemaValidation, nil, "%v", err)
	}

	fragmentDefs := collectFragmentDefinitions(doc)
	selections := inlineFragmentSpreads(op.SelectionSet, fragmentDefs)

	return &OperationContext{
		Operation:     op,
		OperationType: string(op.Operation),
		RootTypeName:  rootTypeName,
		Variables:     op.VariableDefinitions,
		SelectionSet:  selections,
	}, nil
}

func collectOperations(doc *ast.Document) []*ast.OperationDefinition {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}
	return ops
}

func operationName(op *ast.OperationDefinition) string {
	if op.Name == nil {
		return ""
	}
	return op.Name.String()
}

// selectOperation picks the operation to plan. With a single operation in
// the document, operationName is optional and ignored unless it disagrees
// with the operation's own name. With more than one, operationName must
// match exactly one of them.
func selectOperation(ops []*ast.OperationDefinition, operationName_ string) (*ast.OperationDefinition, *PlannerError) {
	if len(ops) == 1 && operationName_ == "" {
		return ops[0], nil
	}

	var match *ast.OperationDefinition
	for _, op := range ops {
		if operationName(op) == operationName_ {
			if match != nil {
				return nil, newPlannerError(ErrAmbiguousOperation, nil, "multiple operations named %q", operationName_)
			}
			match = op
		}
	}
	if match == nil {
		if operationName_ == "" {
			return nil, newPlannerError(ErrAmbiguousOperation, nil, "document has %d operations; operationName is required", len(ops))
		}
		return nil, newPlannerError(ErrNoMatchingOperation, nil, "no operation named %q", operationName_)
	}
	return match, nil
}

func rootTypeNameFor(sg *graph.SuperGraph, op *ast.OperationDefinition) (string, error) {
	rootTypeName := "Query"
	switch op.Operation {
	case ast.Query:
		rootTypeName = "Query"
	case ast.Mutation:
		rootTypeName = "Mutation"
	case ast.Subscription:
		rootTypeName = "Subscription"
	}

	for _, def := range sg.Schema.Definitions {
		schemaDef, ok := def.(*ast.SchemaDefinition)
		if !ok {
			continue
		}
		for _, ot := range schemaDef.OperationTypes {
			if (ot.Operation == token.QUERY && op.Operation == ast.Query) ||
				(ot.Operation == token.MUTATION && op.Operation == ast.Mutation) ||
				(ot.Operation == token.SUBSCRIPTION && op.Operation == ast.Subscription) {
				rootTypeName = ot.Type.Name.String()
			}
		}
	}

	return rootTypeName, nil
}

func collectFragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// inlineFragmentSpreads replaces each fragment spread with an inline
// fragment on the fragment's type condition, recursing into fields and
// inline fragments. Spreads of undefined fragments are dropped; existing
// inline fragments are kept as they are, type condition included.
func inlineFragmentSpreads(selections []ast.Selection, fragmentDefs map[string]*ast.FragmentDefinition) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))

	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if len(sel.SelectionSet) > 0 {
				newField := &ast.Field{
					Alias:      sel.Alias,
					Name:       sel.Name,
					Arguments:  sel.Arguments,
					Directives: sel.Directives,
				}
				newField.SelectionSet = inlineFragmentSpreads(sel.SelectionSet, fragmentDefs)
				result = append(result, newField)
			} else {
				result = append(result, sel)
			}

		case *ast.InlineFragment:
			result = append(result, &ast.InlineFragment{
				TypeCondition: sel.TypeCondition,
				Directives:    sel.Directives,
				SelectionSet:  inlineFragmentSpreads(sel.SelectionSet, fragmentDefs),
			})

		case *ast.FragmentSpread:
			fragDef, ok := fragmentDefs[sel.Name.String()]
			if !ok {
				continue
			}
			result = append(result, &ast.InlineFragment{
				TypeCondition: fragDef.TypeCondition,
				SelectionSet:  inlineFragmentSpreads(fragDef.SelectionSet, fragmentDefs),
			})

		default:
			result = append(result, sel)
		}
	}

	return result
}
