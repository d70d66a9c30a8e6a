package planner

import "sort"

// assemble converts the group DAG built by splitter.split into a
// Fetch/Flatten/Sequence/Parallel tree. Root groups belonging to a query
// operation run in Parallel; a mutation's root groups run in Sequence,
// source order, since mutation side effects must not race. Each group with
// dependents becomes a Sequence of its own Fetch followed by its
// dependents (Flatten-wrapped, and Parallel among themselves when there is
// more than one), collapsing away any Sequence/Parallel with a single child.
func assemble(arena *groupArena, operationType string) planNode {
	var roots []*fetchGroup
	for _, g := range arena.groups {
		if g.isRoot {
			roots = append(roots, g)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].sourceOrder < roots[j].sourceOrder })

	nodes := make([]planNode, 0, len(roots))
	for _, r := range roots {
		nodes = append(nodes, buildGroupNode(arena, r))
	}

	if operationType == "mutation" {
		return collapseSequence(nodes)
	}
	return collapseParallel(nodes)
}

// buildGroupNode returns the node for one group: its own Fetch, followed by
// its dependent steps in sequence.
func buildGroupNode(arena *groupArena, g *fetchGroup) planNode {
	self := fetchNode(g)
	steps := append([]planNode{self}, buildDependentSteps(arena, g)...)
	return collapseSequence(steps)
}

// buildDependentSteps returns g's dependents as a flat list of Flatten-
// wrapped steps. A single dependent is a chain, not a fan-out: its own
// Flatten and its dependents' Flattens belong as siblings in the same
// Sequence, not nested inside one another, since each hop re-walks the
// accumulated response at its own insertion path rather than at a path
// relative to the previous hop. A dependent's dependents only nest under a
// Parallel when there is genuine fan-out: more than one dependent at once.
func buildDependentSteps(arena *groupArena, g *fetchGroup) []planNode {
	if len(g.dependents) == 0 {
		return nil
	}

	deps := make([]*fetchGroup, len(g.dependents))
	for i, id := range g.dependents {
		deps[i] = arena.get(id)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].sourceOrder < deps[j].sourceOrder })

	if len(deps) == 1 {
		dep := deps[0]
		steps := []planNode{flattenNode(dep)}
		return append(steps, buildDependentSteps(arena, dep)...)
	}

	branches := make([]planNode, 0, len(deps))
	for _, dep := range deps {
		branchSteps := append([]planNode{flattenNode(dep)}, buildDependentSteps(arena, dep)...)
		branches = append(branches, collapseSequence(branchSteps))
	}
	return []planNode{collapseParallel(branches)}
}

func fetchNode(g *fetchGroup) *Fetch {
	return &Fetch{
		ServiceName: g.service,
		ParentType:  g.parentType,
		Selections:  g.selections,
		Requires:    g.requires,
	}
}

func flattenNode(g *fetchGroup) planNode {
	return &Flatten{Path: g.insertionPath, Node: fetchNode(g)}
}

func collapseSequence(nodes []planNode) planNode {
	nodes = flattenKind(nodes, KindSequence)
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	default:
		return &Sequence{Nodes: nodes}
	}
}

func collapseParallel(nodes []planNode) planNode {
	nodes = flattenKind(nodes, KindParallel)
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	default:
		return &Parallel{Nodes: nodes}
	}
}

// flattenKind inlines any child of the given kind directly into nodes,
// so a Sequence-of-Sequences (or Parallel-of-Parallels) collapses to one level.
func flattenKind(nodes []planNode, kind NodeKind) []planNode {
	out := make([]planNode, 0, len(nodes))
	for _, n := range nodes {
		switch kind {
		case KindSequence:
			if seq, ok := n.(*Sequence); ok {
				out = append(out, seq.Nodes...)
				continue
			}
		case KindParallel:
			if par, ok := n.(*Parallel); ok {
				out = append(out, par.Nodes...)
				continue
			}
		}
		out = append(out, n)
	}
	return out
}
