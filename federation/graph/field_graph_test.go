package graph_test

import (
	"testing"

	"github.com/whitemike889/federation-planner/federation/graph"
)

func TestNodeKey_WithField(t *testing.T) {
	got := graph.NodeKey("SubGraphA", "Product", "name")
	want := "SubGraphA:Product.name"
	if got != want {
		t.Errorf("NodeKey with field: got %q, want %q", got, want)
	}
}

func TestNodeKey_TypeLevel(t *testing.T) {
	got := graph.NodeKey("SubGraphA", "Product", "")
	want := "SubGraphA:Product"
	if got != want {
		t.Errorf("NodeKey type level: got %q, want %q", got, want)
	}
}

func TestAddNode_NewNode(t *testing.T) {
	sg := newTestSubGraph(t, "sgA", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.NewFieldGraph()
	node := g.AddNode("sgA:Product", sg, "Product", "")
	if node == nil {
		t.Fatal("expected non-nil node")
	}
	if node.ID != "sgA:Product" {
		t.Errorf("expected ID sgA:Product, got %s", node.ID)
	}
	if node.TypeName != "Product" {
		t.Errorf("expected TypeName Product, got %s", node.TypeName)
	}
}

func TestAddNode_Idempotent(t *testing.T) {
	sg := newTestSubGraph(t, "sgA", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.NewFieldGraph()
	n1 := g.AddNode("sgA:Product", sg, "Product", "")
	n2 := g.AddNode("sgA:Product", sg, "Product", "")
	if n1 != n2 {
		t.Error("AddNode should be idempotent and return the same pointer")
	}
}

func TestAddEdge_NormalWeight(t *testing.T) {
	sg := newTestSubGraph(t, "sgA", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.NewFieldGraph()
	g.AddNode("A", sg, "T", "")
	g.AddNode("B", sg, "T", "f")
	g.AddEdge("A", "B", 0)

	if w, ok := g.Nodes["A"].Edges["B"]; !ok || w != 0 {
		t.Errorf("expected edge A->B with weight 0, got exists=%v w=%d", ok, w)
	}
}

func TestAddEdge_PreferLowerWeight(t *testing.T) {
	sg := newTestSubGraph(t, "sgA", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.NewFieldGraph()
	g.AddNode("A", sg, "T", "")
	g.AddNode("B", sg, "T", "f")
	g.AddEdge("A", "B", 1)
	g.AddEdge("A", "B", 0)
	if w := g.Nodes["A"].Edges["B"]; w != 0 {
		t.Errorf("expected min weight 0, got %d", w)
	}
}

func TestAddShortCut(t *testing.T) {
	sg := newTestSubGraph(t, "sgA", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")
	g := graph.NewFieldGraph()
	g.AddNode("A", sg, "Review", "product")
	g.AddShortCut("A", "sgB:Product.name")

	if w, ok := g.Nodes["A"].ShortCut["sgB:Product.name"]; !ok || w != 0 {
		t.Errorf("expected shortcut with weight 0, got exists=%v w=%d", ok, w)
	}
}

func TestBuildFieldGraph_SingleSubGraph(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})

	typeKey := graph.NodeKey("products", "Product", "")
	if _, ok := g.Nodes[typeKey]; !ok {
		t.Errorf("expected type node %q", typeKey)
	}

	idKey := graph.NodeKey("products", "Product", "id")
	nameKey := graph.NodeKey("products", "Product", "name")
	if _, ok := g.Nodes[idKey]; !ok {
		t.Errorf("expected field node %q", idKey)
	}
	if _, ok := g.Nodes[nameKey]; !ok {
		t.Errorf("expected field node %q", nameKey)
	}

	typeNode := g.Nodes[typeKey]
	if w, ok := typeNode.Edges[idKey]; !ok || w != 0 {
		t.Errorf("expected edge %s -> %s with weight 0", typeKey, idKey)
	}
	if w, ok := typeNode.Edges[nameKey]; !ok || w != 0 {
		t.Errorf("expected edge %s -> %s with weight 0", typeKey, nameKey)
	}
}

func TestBuildFieldGraph_CrossSubGraphEdges(t *testing.T) {
	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`
	reviewSchema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
		}
		type Review {
			id: ID!
			body: String!
		}
		extend type Query { review(id: ID!): Review }
	`

	sgProducts := newTestSubGraph(t, "products", productSchema, "http://localhost:4001")
	sgReviews := newTestSubGraph(t, "reviews", reviewSchema, "http://localhost:4002")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sgProducts, sgReviews})

	prodKey := graph.NodeKey("products", "Product", "")
	revKey := graph.NodeKey("reviews", "Product", "")

	if w, ok := g.Nodes[prodKey].Edges[revKey]; !ok || w != 1 {
		t.Errorf("expected cross edge products:Product -> reviews:Product with weight 1, got exists=%v w=%d", ok, w)
	}
	if w, ok := g.Nodes[revKey].Edges[prodKey]; !ok || w != 1 {
		t.Errorf("expected cross edge reviews:Product -> products:Product with weight 1, got exists=%v w=%d", ok, w)
	}
}

func TestBuildFieldGraph_ProvidesUnresolvable(t *testing.T) {
	reviewSchema := `
		type Review @key(fields: "id") {
			id: ID!
			product: Product! @provides(fields: "upc")
		}
		extend type Product @key(fields: "upc") {
			upc: String! @external
		}
		type Query { review(id: ID!): Review }
	`
	sgReviews := newTestSubGraph(t, "reviews", reviewSchema, "http://localhost:4002")
	g := graph.BuildFieldGraph([]*graph.SubGraph{sgReviews})
	_ = g
}

func TestBuildFieldGraph_MultipleSubgraphsSameField(t *testing.T) {
	productSchema1 := `
		type Product @key(fields: "id") {
			id: ID!
			name: String! @shareable
		}
		type Query { product(id: ID!): Product }
	`
	productSchema2 := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			name: String! @shareable
		}
		type Query { productAlt(id: ID!): Product }
	`
	sg1 := newTestSubGraph(t, "products1", productSchema1, "http://localhost:4001")
	sg2 := newTestSubGraph(t, "products2", productSchema2, "http://localhost:4002")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg1, sg2})

	prod1Key := graph.NodeKey("products1", "Product", "")
	prod2Key := graph.NodeKey("products2", "Product", "")
	if _, ok := g.Nodes[prod1Key].Edges[prod2Key]; !ok {
		t.Errorf("expected cross edge between products1:Product and products2:Product")
	}
}

func TestBuildFieldGraph_ProvidesShortCut(t *testing.T) {
	reviewSchema := `
		type Review @key(fields: "id") {
			id: ID!
			body: String!
			product: Product! @provides(fields: "name")
		}
		extend type Product @key(fields: "upc") {
			upc: String! @external
			name: String @external
		}
		type Query { review(id: ID!): Review }
	`
	productSchema := `
		type Product @key(fields: "upc") {
			upc: String!
			name: String!
			price: Int!
		}
		type Query { product(upc: String!): Product }
	`

	sgReviews := newTestSubGraph(t, "reviews", reviewSchema, "http://localhost:4002")
	sgProducts := newTestSubGraph(t, "products", productSchema, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sgReviews, sgProducts})

	reviewProductKey := graph.NodeKey("reviews", "Review", "product")
	reviewProductNode, ok := g.Nodes[reviewProductKey]
	if !ok {
		t.Fatalf("expected node %q to exist", reviewProductKey)
	}

	productNameKey := graph.NodeKey("products", "Product", "name")
	if _, hasShortCut := reviewProductNode.ShortCut[productNameKey]; !hasShortCut {
		t.Errorf("expected shortcut from %s to %s; got shortcuts: %v",
			reviewProductKey, productNameKey, reviewProductNode.ShortCut)
	}
}

func TestDijkstra_SingleSubGraph_AllReachable(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})

	typeKey := graph.NodeKey("products", "Product", "")
	result := g.Dijkstra([]string{typeKey})

	idKey := graph.NodeKey("products", "Product", "id")
	nameKey := graph.NodeKey("products", "Product", "name")

	if result.Dist[idKey] != 0 {
		t.Errorf("expected cost 0 to reach %s, got %d", idKey, result.Dist[idKey])
	}
	if result.Dist[nameKey] != 0 {
		t.Errorf("expected cost 0 to reach %s, got %d", nameKey, result.Dist[nameKey])
	}
}

func TestDijkstra_CrossSubGraph_CostOne(t *testing.T) {
	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`
	reviewSchema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
		}
		type Review {
			id: ID!
			body: String!
		}
		extend type Query { review(id: ID!): Review }
	`

	sgProducts := newTestSubGraph(t, "products", productSchema, "http://localhost:4001")
	sgReviews := newTestSubGraph(t, "reviews", reviewSchema, "http://localhost:4002")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sgProducts, sgReviews})

	entry := graph.NodeKey("products", "Product", "")
	result := g.Dijkstra([]string{entry})

	nameKey := graph.NodeKey("products", "Product", "name")
	if result.Dist[nameKey] != 0 {
		t.Errorf("expected cost 0 for products:Product.name, got %d", result.Dist[nameKey])
	}

	revTypeKey := graph.NodeKey("reviews", "Product", "")
	if result.Dist[revTypeKey] != 1 {
		t.Errorf("expected cost 1 for reviews:Product, got %d", result.Dist[revTypeKey])
	}

	revFieldKey := graph.NodeKey("reviews", "Product", "reviews")
	if result.Dist[revFieldKey] != 1 {
		t.Errorf("expected cost 1 for reviews:Product.reviews, got %d", result.Dist[revFieldKey])
	}
}

func TestDijkstra_Unreachable(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})
	result := g.Dijkstra([]string{})

	info := int(^uint(0) >> 1)
	typeKey := graph.NodeKey("products", "Product", "")
	if result.Dist[typeKey] != info {
		t.Errorf("expected unreachable (inf), got %d", result.Dist[typeKey])
	}
}

func TestDijkstra_ShortCutZeroCost(t *testing.T) {
	reviewSchema := `
		type Review @key(fields: "id") {
			id: ID!
			product: Product! @provides(fields: "name")
		}
		extend type Product @key(fields: "upc") {
			upc: String! @external
			name: String @external
		}
		type Query { review(id: ID!): Review }
	`
	productSchema := `
		type Product @key(fields: "upc") {
			upc: String!
			name: String!
		}
		type Query { product(upc: String!): Product }
	`

	sgReviews := newTestSubGraph(t, "reviews", reviewSchema, "http://localhost:4002")
	sgProducts := newTestSubGraph(t, "products", productSchema, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sgReviews, sgProducts})

	entry := graph.NodeKey("reviews", "Review", "")
	result := g.Dijkstra([]string{entry})

	reviewProductKey := graph.NodeKey("reviews", "Review", "product")
	if result.Dist[reviewProductKey] != 0 {
		t.Errorf("expected cost 0 for reviews:Review.product, got %d", result.Dist[reviewProductKey])
	}

	productNameKey := graph.NodeKey("products", "Product", "name")
	if result.Dist[productNameKey] != 0 {
		t.Errorf("expected cost 0 for products:Product.name via shortcut, got %d", result.Dist[productNameKey])
	}
}

func TestReconstructPath_Simple(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})

	typeKey := graph.NodeKey("products", "Product", "")
	nameKey := graph.NodeKey("products", "Product", "name")

	result := g.Dijkstra([]string{typeKey})
	path := result.ReconstructPath(nameKey)

	if len(path) == 0 {
		t.Fatal("expected non-empty path")
	}
	if path[0] != typeKey {
		t.Errorf("expected path to start with %s, got %s", typeKey, path[0])
	}
	if path[len(path)-1] != nameKey {
		t.Errorf("expected path to end with %s, got %s", nameKey, path[len(path)-1])
	}
}

func TestReconstructPath_Unreachable(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})
	result := g.Dijkstra([]string{})
	path := result.ReconstructPath(graph.NodeKey("products", "Product", "id"))
	if path != nil {
		t.Errorf("expected nil path for unreachable node, got %v", path)
	}
}

func TestSuperGraph_HasFieldGraph(t *testing.T) {
	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`
	sg := newTestSubGraph(t, "products", productSchema, "http://localhost:4001")
	superGraph, err := graph.NewSuperGraph([]*graph.SubGraph{sg})
	if err != nil {
		t.Fatalf("NewSuperGraph failed: %v", err)
	}
	if superGraph.Graph == nil {
		t.Fatal("expected SuperGraph.Graph to be non-nil after construction")
	}
	typeKey := graph.NodeKey("products", "Product", "")
	if _, ok := superGraph.Graph.Nodes[typeKey]; !ok {
		t.Errorf("expected node %q in SuperGraph.Graph", typeKey)
	}
}

func TestReconstructPath_NodeNotInDist(t *testing.T) {
	result := &graph.DijkstraResult{
		Dist: map[string]int{},
		Prev: map[string]string{},
	}
	path := result.ReconstructPath("nonexistent:Type.field")
	if path != nil {
		t.Errorf("expected nil for node not in Dist, got %v", path)
	}
}

func TestDijkstra_EntryPointNotInGraph(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") { id: ID! }
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")
	g := graph.BuildFieldGraph([]*graph.SubGraph{sg})

	result := g.Dijkstra([]string{"nonexistent:Ghost"})
	inf := int(^uint(0) >> 1)
	typeKey := graph.NodeKey("products", "Product", "")
	if result.Dist[typeKey] != inf {
		t.Errorf("expected inf for unreachable node, got %d", result.Dist[typeKey])
	}
}

// TestDijkstra_StaleEntry exercises the stale-entry skip path: A(entry,cost=0)
// can reach B both directly (cost 1) and via D (cost 0+0); the popped stale
// cost-1 entry for B must be discarded once the cheaper one has settled.
func TestDijkstra_StaleEntry(t *testing.T) {
	sg := newTestSubGraph(t, "products", `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query { product(id: ID!): Product }
	`, "http://localhost:4001")

	g := graph.NewFieldGraph()
	g.AddNode("A", sg, "T", "")
	g.AddNode("B", sg, "T", "b")
	g.AddNode("C", sg, "T", "c")
	g.AddNode("D", sg, "T", "d")

	g.AddEdge("A", "B", 1)
	g.AddEdge("A", "D", 0)
	g.AddEdge("D", "B", 0)

	result := g.Dijkstra([]string{"A"})

	if result.Dist["B"] != 0 {
		t.Errorf("expected cost 0 for B via A->D->B, got %d", result.Dist["B"])
	}
	if result.Dist["D"] != 0 {
		t.Errorf("expected cost 0 for D, got %d", result.Dist["D"])
	}
}

func TestReconstructPath_CycleGuard(t *testing.T) {
	result := &graph.DijkstraResult{
		Dist: map[string]int{"A": 0, "B": 0},
		Prev: map[string]string{"A": "B", "B": "A"},
	}
	path := result.ReconstructPath("A")
	if len(path) == 0 {
		t.Error("expected non-empty path even with cycle guard")
	}
}

func TestAddEdge_SrcNotFound(t *testing.T) {
	g := graph.NewFieldGraph()
	g.AddEdge("nonexistent", "B", 0)
}

func TestAddShortCut_SrcNotFound(t *testing.T) {
	g := graph.NewFieldGraph()
	g.AddShortCut("nonexistent", "B")
}

func newTestSubGraph(t *testing.T, name, schema, host string) *graph.SubGraph {
	t.Helper()
	sg, err := graph.NewSubGraph(name, []byte(schema), host)
	if err != nil {
		t.Fatalf("NewSubGraph(%s) failed: %v", name, err)
	}
	return sg
}
