package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/n9te9/graphql-parser/ast"

	"github.com/whitemike889/federation-planner/federation/graph"
	"github.com/whitemike889/federation-planner/federation/planner"
)

type contextKey int

const requestHeaderKey contextKey = iota

// SetRequestHeaderToContext attaches the client's incoming request header to
// ctx so sendRequest can forward a chosen subset of it to every subgraph.
func SetRequestHeaderToContext(ctx context.Context, header http.Header) context.Context {
	return context.WithValue(ctx, requestHeaderKey, header)
}

// forwardedRequestHeaders lists the incoming headers that get hung over onto
// every subgraph request when header forwarding is enabled.
var forwardedRequestHeaders = []string{"Authorization", "X-Request-Id"}

// GraphQLError is a GraphQL error with path information, attributed back to
// the service that produced or was responsible for it.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Executor runs an assembled planner.QueryPlan against the services named
// in its Fetch nodes and merges every response into one GraphQL result.
type Executor struct {
	httpClient   *http.Client
	queryBuilder *QueryBuilder
	hosts        map[string]string
}

// NewExecutor creates an Executor addressing superGraph's services by the
// host each declared when its SubGraph was composed.
func NewExecutor(httpClient *http.Client, superGraph *graph.SuperGraph) *Executor {
	hosts := make(map[string]string, len(superGraph.SubGraphs))
	for _, sg := range superGraph.SubGraphs {
		hosts[sg.Name] = sg.Host
	}
	return &Executor{
		httpClient:   httpClient,
		queryBuilder: NewQueryBuilder(superGraph),
		hosts:        hosts,
	}
}

// execState accumulates the response's data and errors as the plan tree
// runs. data is the top-level `data` object every Fetch and Flatten merges
// into; the mutex is only ever held around a merge, never across a network
// call, so Parallel branches don't serialize on it.
type execState struct {
	mu     sync.Mutex
	data   map[string]interface{}
	errors []GraphQLError
}

func (s *execState) recordError(err error, serviceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, GraphQLError{
		Message:    err.Error(),
		Extensions: map[string]interface{}{"serviceName": serviceName},
	})
}

func (s *execState) recordSubgraphErrors(errs interface{}, serviceName string) {
	list, ok := errs.([]interface{})
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range list {
		errMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		message, _ := errMap["message"].(string)
		if message == "" {
			message = "unknown error from subgraph"
		}
		var path []interface{}
		if errPath, ok := errMap["path"].([]interface{}); ok {
			path = errPath
		}
		ext := map[string]interface{}{"serviceName": serviceName}
		if extra, ok := errMap["extensions"].(map[string]interface{}); ok {
			for k, v := range extra {
				ext[k] = v
			}
		}
		s.errors = append(s.errors, GraphQLError{Message: message, Path: path, Extensions: ext})
	}
}

// Execute runs plan and returns the assembled `{data, errors}` response.
// The caller is responsible for pruning the result down to the client's
// original selection set with Prune; Execute's own data includes whatever
// __typename and key fields the planner injected along the way.
func (e *Executor) Execute(ctx context.Context, plan *planner.QueryPlan, variables map[string]interface{}) (map[string]interface{}, error) {
	state := &execState{data: make(map[string]interface{})}

	if plan != nil && plan.Node != nil {
		if err := e.run(ctx, plan.Node, plan.OperationType, state, variables); err != nil {
			return nil, err
		}
	}

	response := map[string]interface{}{"data": state.data}
	if len(state.errors) > 0 {
		response["errors"] = state.errors
	}
	return response, nil
}

// run dispatches on the concrete node type. The plan tree's nodes are typed
// as the unexported planner.planNode interface, which this package cannot
// name directly, so run takes the empty interface and recovers the concrete
// type with a switch — the same pattern a JSON-shaped tree walk would use.
func (e *Executor) run(ctx context.Context, node interface{}, operationType string, state *execState, variables map[string]interface{}) error {
	switch n := node.(type) {
	case *planner.Fetch:
		return e.runFetch(ctx, n, operationType, state, variables)
	case *planner.Flatten:
		return e.runFlatten(ctx, n, state, variables)
	case *planner.Sequence:
		for _, child := range n.Nodes {
			if err := e.run(ctx, child, operationType, state, variables); err != nil {
				return err
			}
		}
		return nil
	case *planner.Parallel:
		eg, gctx := errgroup.WithContext(ctx)
		for _, child := range n.Nodes {
			child := child
			eg.Go(func() error {
				return e.run(gctx, child, operationType, state, variables)
			})
		}
		return eg.Wait()
	default:
		return fmt.Errorf("federation: unknown plan node %T", node)
	}
}

// runFetch executes a root Fetch and merges its top-level fields into the
// response. A root Fetch never carries Requires: it is the sole step of the
// whole plan, one branch of a Parallel of root services, or the first step
// of a Sequence whose later steps are its dependents.
func (e *Executor) runFetch(ctx context.Context, fetch *planner.Fetch, operationType string, state *execState, variables map[string]interface{}) error {
	query, vars, err := e.queryBuilder.Build(fetch, nil, variables, operationType)
	if err != nil {
		state.recordError(err, fetch.ServiceName)
		return nil
	}

	result, err := e.sendRequest(ctx, fetch.ServiceName, query, vars)
	if err != nil {
		state.recordError(err, fetch.ServiceName)
		return nil
	}
	state.recordSubgraphErrors(result["errors"], fetch.ServiceName)

	data, _ := result["data"].(map[string]interface{})
	state.mu.Lock()
	for k, v := range data {
		state.data[k] = v
	}
	state.mu.Unlock()
	return nil
}

// runFlatten resolves an entity dependent. It gathers a representation for
// every leaf reached by walking Flatten.Path through the response so far,
// where an "@" segment means "for every element of the array here", sends a
// single _entities request for the leaves matching this Fetch's ParentType,
// and merges each returned entity's fields back into the leaf it came from.
func (e *Executor) runFlatten(ctx context.Context, flatten *planner.Flatten, state *execState, variables map[string]interface{}) error {
	fetch, ok := flatten.Node.(*planner.Fetch)
	if !ok {
		return fmt.Errorf("federation: Flatten node wraps %T, want *planner.Fetch", flatten.Node)
	}

	state.mu.Lock()
	leaves := navigatePath(state.data, flatten.Path)
	state.mu.Unlock()

	keyFields := fieldNames(fetch.Requires.KeyFields)

	var targets []map[string]interface{}
	var representations []map[string]interface{}
	for _, leaf := range leaves {
		if typeName, _ := leaf["__typename"].(string); typeName != fetch.ParentType {
			continue
		}
		rep, ok := buildRepresentation(leaf, fetch.ParentType, keyFields)
		if !ok {
			continue
		}
		targets = append(targets, leaf)
		representations = append(representations, rep)
	}

	if len(representations) == 0 {
		return nil
	}

	query, vars, err := e.queryBuilder.Build(fetch, representations, variables, "query")
	if err != nil {
		state.recordError(err, fetch.ServiceName)
		return nil
	}

	result, err := e.sendRequest(ctx, fetch.ServiceName, query, vars)
	if err != nil {
		state.recordError(err, fetch.ServiceName)
		return nil
	}
	state.recordSubgraphErrors(result["errors"], fetch.ServiceName)

	data, _ := result["data"].(map[string]interface{})
	entities, _ := data["_entities"].([]interface{})

	state.mu.Lock()
	for i, entity := range entities {
		if i >= len(targets) {
			break
		}
		entityMap, ok := entity.(map[string]interface{})
		if !ok {
			continue
		}
		if err := Merge(targets[i], entityMap, nil); err != nil {
			state.errors = append(state.errors, GraphQLError{
				Message:    fmt.Sprintf("failed to merge entity result: %v", err),
				Extensions: map[string]interface{}{"serviceName": fetch.ServiceName},
			})
		}
	}
	state.mu.Unlock()
	return nil
}

// navigatePath walks data along path, treating "@" as "descend into every
// element of the array here", and returns the map found at every leaf
// reached. Callers hold state.mu while calling this, since it reads the
// live response tree other Parallel branches may still be writing.
func navigatePath(data interface{}, path []string) []map[string]interface{} {
	if len(path) == 0 {
		if m, ok := data.(map[string]interface{}); ok {
			return []map[string]interface{}{m}
		}
		return nil
	}

	segment, rest := path[0], path[1:]
	if segment == "@" {
		arr, ok := data.([]interface{})
		if !ok {
			return nil
		}
		var out []map[string]interface{}
		for _, elem := range arr {
			out = append(out, navigatePath(elem, rest)...)
		}
		return out
	}

	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	next, ok := m[segment]
	if !ok {
		return nil
	}
	return navigatePath(next, rest)
}

func buildRepresentation(leaf map[string]interface{}, typeName string, keyFields []string) (map[string]interface{}, bool) {
	rep := map[string]interface{}{"__typename": typeName}
	for _, name := range keyFields {
		value, ok := leaf[name]
		if !ok {
			return nil, false
		}
		rep[name] = value
	}
	return rep, true
}

func fieldNames(selections []ast.Selection) []string {
	var names []string
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok || field.Name.String() == "__typename" {
			continue
		}
		names = append(names, field.Name.String())
	}
	return names
}

func (e *Executor) sendRequest(ctx context.Context, serviceName, query string, variables map[string]interface{}) (map[string]interface{}, error) {
	host, ok := e.hosts[serviceName]
	if !ok {
		return nil, fmt.Errorf("federation: no host registered for service %q", serviceName)
	}

	body := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if header, ok := ctx.Value(requestHeaderKey).(http.Header); ok {
		for _, name := range forwardedRequestHeaders {
			if v := header.Get(name); v != "" {
				req.Header.Set(name, v)
			}
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request to %s: %w", serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", serviceName, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response from %s: %w", serviceName, err)
	}
	return result, nil
}

// Prune removes fields from resp["data"] that weren't present in the
// client's original selection set, stripping the __typename and key fields
// the planner injected along the way to satisfy entity representations.
func Prune(resp map[string]interface{}, selections []ast.Selection) map[string]interface{} {
	data, ok := resp["data"].(map[string]interface{})
	if !ok || len(selections) == 0 {
		return resp
	}

	pruned := map[string]interface{}{"data": pruneObject(data, selections)}
	if errs, ok := resp["errors"]; ok {
		pruned["errors"] = errs
	}
	return pruned
}

func pruneObject(obj interface{}, selections []ast.Selection) interface{} {
	switch v := obj.(type) {
	case map[string]interface{}:
		typeName, _ := v["__typename"].(string)
		result := make(map[string]interface{})
		applyFieldSelections(result, v, selections, typeName)
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = pruneObject(item, selections)
		}
		return result
	default:
		return v
	}
}

func applyFieldSelections(result, v map[string]interface{}, selections []ast.Selection, typeName string) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			key := s.Name.String()
			if s.Alias != nil && s.Alias.String() != "" {
				key = s.Alias.String()
			}
			value, exists := v[key]
			if !exists {
				continue
			}
			if len(s.SelectionSet) > 0 {
				result[key] = pruneObject(value, s.SelectionSet)
			} else {
				result[key] = value
			}
		case *ast.InlineFragment:
			if s.TypeCondition.Name.String() != typeName {
				continue
			}
			applyFieldSelections(result, v, s.SelectionSet, typeName)
		}
	}
}
