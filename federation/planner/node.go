package planner

import "github.com/n9te9/graphql-parser/ast"

// NodeKind identifies the concrete type of a planNode.
type NodeKind string

const (
	KindFetch    NodeKind = "Fetch"
	KindFlatten  NodeKind = "Flatten"
	KindSequence NodeKind = "Sequence"
	KindParallel NodeKind = "Parallel"
)

// planNode is one node of the assembled query plan tree.
type planNode interface {
	Kind() NodeKind
}

// Fetch sends one GraphQL request to a single service. Requires is non-nil
// for entity fetches: it describes the representation the parent node must
// supply before this fetch can run.
type Fetch struct {
	ServiceName string
	ParentType  string
	Selections  []ast.Selection
	Requires    *Representation
}

func (f *Fetch) Kind() NodeKind { return KindFetch }

// Flatten rewrites Node's result back into the response at Path, mapping
// `@` path segments over arrays encountered along the way.
type Flatten struct {
	Path []string
	Node planNode
}

func (f *Flatten) Kind() NodeKind { return KindFlatten }

// Sequence runs its children strictly in order, each awaiting the previous.
type Sequence struct {
	Nodes []planNode
}

func (s *Sequence) Kind() NodeKind { return KindSequence }

// Parallel runs its children concurrently.
type Parallel struct {
	Nodes []planNode
}

func (p *Parallel) Kind() NodeKind { return KindParallel }

// QueryPlan is the root of an assembled plan.
type QueryPlan struct {
	Node          planNode
	OperationType string
}
