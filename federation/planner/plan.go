// Package planner splits a federated GraphQL operation into per-service
// fetch groups and assembles them into a Fetch/Flatten/Sequence/Parallel
// query plan tree, following each field's ownership, @key and @requires
// metadata in the composed supergraph. @provides is not consulted.
package planner

import (
	"github.com/n9te9/graphql-parser/ast"

	"github.com/whitemike889/federation-planner/federation/graph"
)

// Plan produces a QueryPlan for operationName (or the document's sole
// operation, if empty) against the composed supergraph sg. It returns a
// batched PlannerError covering every validation failure found rather than
// stopping at the first one, per the operation-validation policy: a plan is
// never emitted for a document that fails validation.
func Plan(sg *graph.SuperGraph, doc *ast.Document, operationName string) (*QueryPlan, *PlannerError) {
	ctx, perr := NewOperationContext(sg, doc, operationName)
	if perr != nil {
		return nil, perr
	}

	s := newSplitter(sg)
	arena, perr := s.split(ctx)
	if perr != nil {
		return nil, perr
	}

	node := assemble(arena, ctx.OperationType)
	return &QueryPlan{Node: node, OperationType: ctx.OperationType}, nil
}
