package gateway

import (
	"fmt"
	"net/http"

	"github.com/whitemike889/federation-planner/federation/executor"
	"github.com/whitemike889/federation-planner/federation/graph"
)

// executionEngine bundles all read-only components required to serve GraphQL requests.
type executionEngine struct {
	executor   *executor.Executor
	superGraph *graph.SuperGraph
}

// schemaStore holds the current set of raw SDLs, host URLs, and the pre-built engine.
// It is stored in atomic.Value, so every value must be read-only after it is constructed.
type schemaStore struct {
	sdls   map[string]string // subgraph name → SDL string
	hosts  map[string]string // subgraph name → base URL
	engine *executionEngine
}

// buildEngine composes a new SuperGraph from the given SDLs and host map, then wraps it
// in an executionEngine together with an Executor.
// The order that subgraphs are processed follows the iteration order of sdls, which is
// non-deterministic in Go maps. Composition is not order-independent: for a field that
// several services resolve, the owner is the first of them in this order.
func buildEngine(sdls, hosts map[string]string, httpClient *http.Client) (*executionEngine, error) {
	subGraphs := make([]*graph.SubGraph, 0, len(sdls))
	for name, sdl := range sdls {
		sg, err := graph.NewSubGraph(name, []byte(sdl), hosts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subGraphs = append(subGraphs, sg)
	}

	superGraph, err := graph.NewSuperGraph(subGraphs)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	return &executionEngine{
		executor:   executor.NewExecutor(httpClient, superGraph),
		superGraph: superGraph,
	}, nil
}

// copyMap returns a shallow copy of a string map.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
