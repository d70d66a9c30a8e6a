package planner

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// groupID addresses a fetchGroup within a single Plan call's groupArena.
type groupID int

const noGroup groupID = -1

// Representation is the `{ __typename, <key fields> }` object a dependent
// fetchGroup needs from its parent in order to resolve its own entity.
type Representation struct {
	TypeName  string
	KeyFields []ast.Selection
}

// fetchGroup is one pending request to a single service: either a slice of
// root fields (isRoot) or an _entities resolution keyed by a Representation.
// Groups are merged by (service, parentType, path) as the splitter walks the
// operation, then stitched into a Fetch/Flatten/Sequence/Parallel tree by
// the assembler.
type fetchGroup struct {
	id         groupID
	service    string
	parentType string
	path       string // join of the insertion path segments, used as a merge key
	isRoot     bool

	selections []ast.Selection
	requires   *Representation

	dependsOn   groupID
	dependents  []groupID
	sourceOrder int

	insertionPath []string
}

// groupArena owns every fetchGroup created while planning a single
// operation, addressed by small integer ids so the assembler can walk the
// dependency DAG without re-keying maps of pointers.
type groupArena struct {
	groups []*fetchGroup
	index  map[string]groupID
}

func newGroupArena() *groupArena {
	return &groupArena{index: make(map[string]groupID)}
}

func groupKey(service, parentType, path string) string {
	return fmt.Sprintf("%s:%s:%s", service, parentType, path)
}

// findOrCreate returns the existing group for (service, parentType, path) if
// one exists, or creates a new dependent group otherwise. The bool result
// reports whether a new group was created.
func (a *groupArena) findOrCreate(service, parentType, path string, dependsOn groupID) (*fetchGroup, bool) {
	key := groupKey(service, parentType, path)
	if id, ok := a.index[key]; ok {
		return a.groups[id], false
	}

	g := &fetchGroup{
		id:          groupID(len(a.groups)),
		service:     service,
		parentType:  parentType,
		path:        path,
		dependsOn:   dependsOn,
		sourceOrder: len(a.groups),
	}
	a.groups = append(a.groups, g)
	a.index[key] = g.id

	if dependsOn != noGroup {
		parent := a.groups[dependsOn]
		parent.dependents = append(parent.dependents, g.id)
	}

	return g, true
}

// newRootGroup creates a top-level group for one root-selection service.
// Root groups have no parent and are never merged by path, only by service.
func (a *groupArena) newRootGroup(service string, rootTypeName string) *fetchGroup {
	g := &fetchGroup{
		id:          groupID(len(a.groups)),
		service:     service,
		parentType:  rootTypeName,
		isRoot:      true,
		dependsOn:   noGroup,
		sourceOrder: len(a.groups),
	}
	a.groups = append(a.groups, g)
	a.index[groupKey(service, rootTypeName, "")] = g.id
	return g
}

func (a *groupArena) get(id groupID) *fetchGroup {
	return a.groups[id]
}
