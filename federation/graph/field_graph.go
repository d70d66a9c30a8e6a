package graph

import (
	"container/heap"
	"fmt"
)

// FieldNode is a node in the weighted field graph, corresponding to either a
// type as a whole (FieldName == "") or one field of a type, scoped to the
// service that declares it.
type FieldNode struct {
	ID        string // "{service}:{Type}" or "{service}:{Type}.{field}"
	SubGraph  *SubGraph
	TypeName  string
	FieldName string
	Edges     map[string]int // same- or cross-service hops, by weight
	ShortCut  map[string]int // @provides shortcuts; always weight 0
}

// FieldGraph is the weighted directed graph over every service's fields,
// used to find the cheapest service to resolve a field from, taking
// @provides shortcuts into account.
type FieldGraph struct {
	Nodes map[string]*FieldNode
}

// NewFieldGraph returns an empty FieldGraph.
func NewFieldGraph() *FieldGraph {
	return &FieldGraph{Nodes: make(map[string]*FieldNode)}
}

// AddNode registers a node, returning the existing one if id is already present.
func (g *FieldGraph) AddNode(id string, subGraph *SubGraph, typeName, fieldName string) *FieldNode {
	if existing, ok := g.Nodes[id]; ok {
		return existing
	}
	node := &FieldNode{
		ID:        id,
		SubGraph:  subGraph,
		TypeName:  typeName,
		FieldName: fieldName,
		Edges:     make(map[string]int),
		ShortCut:  make(map[string]int),
	}
	g.Nodes[id] = node
	return node
}

// AddEdge adds a directed edge, keeping the cheaper of any existing weight.
func (g *FieldGraph) AddEdge(srcID, dstID string, weight int) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return
	}
	if existing, exists := src.Edges[dstID]; !exists || weight < existing {
		src.Edges[dstID] = weight
	}
}

// AddShortCut adds a weight-0 @provides shortcut edge.
func (g *FieldGraph) AddShortCut(srcID, dstID string) {
	src, ok := g.Nodes[srcID]
	if !ok {
		return
	}
	src.ShortCut[dstID] = 0
}

// NodeKey builds the node identifier for a service/type/field triple. An
// empty fieldName yields the type-level node.
func NodeKey(serviceName, typeName, fieldName string) string {
	if fieldName == "" {
		return fmt.Sprintf("%s:%s", serviceName, typeName)
	}
	return fmt.Sprintf("%s:%s.%s", serviceName, typeName, fieldName)
}

type dijkstraItem struct {
	nodeID string
	cost   int
	index  int
}

type dijkstraPQ []*dijkstraItem

func (pq dijkstraPQ) Len() int           { return len(pq) }
func (pq dijkstraPQ) Less(i, j int) bool { return pq[i].cost < pq[j].cost }
func (pq dijkstraPQ) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *dijkstraPQ) Push(x any) {
	item := x.(*dijkstraItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *dijkstraPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// DijkstraResult holds the shortest-path distances and predecessors from a
// Dijkstra run over a FieldGraph.
type DijkstraResult struct {
	Dist map[string]int
	Prev map[string]string
}

const infCost = int(^uint(0) >> 1)

// Dijkstra computes shortest paths from the given entry points (cost 0).
func (g *FieldGraph) Dijkstra(entryPoints []string) *DijkstraResult {
	dist := make(map[string]int, len(g.Nodes))
	prev := make(map[string]string, len(g.Nodes))
	for id := range g.Nodes {
		dist[id] = infCost
	}

	pq := &dijkstraPQ{}
	heap.Init(pq)
	for _, ep := range entryPoints {
		if _, ok := g.Nodes[ep]; ok {
			dist[ep] = 0
			heap.Push(pq, &dijkstraItem{nodeID: ep, cost: 0})
		}
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*dijkstraItem)
		if item.cost > dist[item.nodeID] {
			continue
		}
		node := g.Nodes[item.nodeID]

		for dstID, weight := range node.Edges {
			if newCost := dist[item.nodeID] + weight; newCost < dist[dstID] {
				dist[dstID] = newCost
				prev[dstID] = item.nodeID
				heap.Push(pq, &dijkstraItem{nodeID: dstID, cost: newCost})
			}
		}
		for dstID := range node.ShortCut {
			if newCost := dist[item.nodeID]; newCost < dist[dstID] {
				dist[dstID] = newCost
				prev[dstID] = item.nodeID
				heap.Push(pq, &dijkstraItem{nodeID: dstID, cost: newCost})
			}
		}
	}

	return &DijkstraResult{Dist: dist, Prev: prev}
}

// ReconstructPath walks Prev back from dstID to its entry point. Returns nil
// if dstID was never reached.
func (r *DijkstraResult) ReconstructPath(dstID string) []string {
	if cost, ok := r.Dist[dstID]; !ok || cost == infCost {
		return nil
	}

	var path []string
	visited := make(map[string]bool)
	for cur := dstID; cur != ""; {
		if visited[cur] {
			break
		}
		visited[cur] = true
		path = append([]string{cur}, path...)
		prev, ok := r.Prev[cur]
		if !ok {
			break
		}
		cur = prev
	}
	return path
}

// BuildFieldGraph constructs the weighted field graph for a set of services:
// same-service type->field edges cost 0, cross-service @key edges between
// services that both declare an entity cost 1, and @provides annotations add
// 0-cost shortcuts from the providing field straight to the provided field.
func BuildFieldGraph(subGraphs []*SubGraph) *FieldGraph {
	g := NewFieldGraph()

	for _, sg := range subGraphs {
		for typeName, entity := range sg.GetEntities() {
			typeKey := NodeKey(sg.Name, typeName, "")
			g.AddNode(typeKey, sg, typeName, "")

			for fieldName, field := range entity.Fields {
				fieldKey := NodeKey(sg.Name, typeName, fieldName)
				g.AddNode(fieldKey, sg, typeName, fieldName)
				g.AddEdge(typeKey, fieldKey, 0)

				for _, provided := range field.Provides {
					placeholder := fmt.Sprintf("%s:%s.%s:%s", sg.Name, typeName, fieldName, provided)
					g.AddShortCut(fieldKey, placeholder)
				}
			}
		}
	}

	entityServices := make(map[string][]*SubGraph)
	for _, sg := range subGraphs {
		for typeName := range sg.GetEntities() {
			entityServices[typeName] = append(entityServices[typeName], sg)
		}
	}
	for typeName, services := range entityServices {
		for i, a := range services {
			for _, b := range services[i+1:] {
				keyA := NodeKey(a.Name, typeName, "")
				keyB := NodeKey(b.Name, typeName, "")
				g.AddEdge(keyA, keyB, 1)
				g.AddEdge(keyB, keyA, 1)
			}
		}
	}

	g.resolveProvideShortCuts()

	return g
}

// resolveProvideShortCuts rewrites the placeholder shortcut keys left by
// BuildFieldGraph's first pass into real node IDs, by matching the provided
// field's name against a field node owned by a different service.
func (g *FieldGraph) resolveProvideShortCuts() {
	for _, node := range g.Nodes {
		if len(node.ShortCut) == 0 {
			continue
		}

		resolved := make(map[string]int)
		for placeholder := range node.ShortCut {
			providedFieldName := lastSegmentAfterColon(placeholder)

			found := false
			for realID, realNode := range g.Nodes {
				if realNode.FieldName == providedFieldName && realNode.SubGraph.Name != node.SubGraph.Name {
					resolved[realID] = 0
					found = true
					break
				}
			}
			if !found {
				resolved[placeholder] = 0
			}
		}
		node.ShortCut = resolved
	}
}

func lastSegmentAfterColon(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[i+1:]
		}
	}
	return s
}
