package executor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"

	"github.com/whitemike889/federation-planner/federation/executor"
	"github.com/whitemike889/federation-planner/federation/graph"
	"github.com/whitemike889/federation-planner/federation/planner"
)

func parseQuery(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		t.Fatalf("parse errors: %v", p.Errors())
	}
	return doc
}

func newSubGraph(t *testing.T, name, schema, host string) *graph.SubGraph {
	t.Helper()
	sg, err := graph.NewSubGraph(name, []byte(schema), host)
	if err != nil {
		t.Fatalf("NewSubGraph(%s): %v", name, err)
	}
	return sg
}

// jsonServer returns a server that always answers with body, and rewrites
// sg's host to point at it.
func jsonServer(t *testing.T, sg *graph.SubGraph, body map[string]interface{}) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	sg.Host = server.URL
}

// TestExecute_SingleDependentHop drives the real planner over the S3
// scenario (`{ me { reviews { body } numberOfReviews } }`) through real
// httptest services, exercising Sequence -> Fetch -> Flatten end to end.
func TestExecute_SingleDependentHop(t *testing.T) {
	accounts := newSubGraph(t, "accounts", `
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query {
			me: User
		}
	`, "")
	reviews := newSubGraph(t, "reviews", `
		extend type User @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
			numberOfReviews: Int!
		}
		type Review {
			body: String!
		}
	`, "")

	sg, err := graph.NewSuperGraph([]*graph.SubGraph{accounts, reviews})
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}

	doc := parseQuery(t, `{ me { reviews { body } numberOfReviews } }`)
	plan, perr := planner.Plan(sg, doc, "")
	if perr != nil {
		t.Fatalf("Plan: %v", perr)
	}

	jsonServer(t, accounts, map[string]interface{}{
		"data": map[string]interface{}{
			"me": map[string]interface{}{"__typename": "User", "id": "1"},
		},
	})
	jsonServer(t, reviews, map[string]interface{}{
		"data": map[string]interface{}{
			"_entities": []interface{}{
				map[string]interface{}{
					"reviews":         []interface{}{map[string]interface{}{"body": "Great"}},
					"numberOfReviews": float64(1),
				},
			},
		},
	})

	exec := executor.NewExecutor(http.DefaultClient, sg)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	pruned := executor.Prune(result, doc.Definitions[0].(*ast.OperationDefinition).SelectionSet)
	data, ok := pruned["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data map, got %T", pruned["data"])
	}
	me, ok := data["me"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected me map, got %T", data["me"])
	}
	if _, hasID := me["id"]; hasID {
		t.Error("Prune should have stripped the injected id key field")
	}
	if _, hasTypename := me["__typename"]; hasTypename {
		t.Error("Prune should have stripped the injected __typename")
	}
	numberOfReviews, ok := me["numberOfReviews"].(float64)
	if !ok || numberOfReviews != 1 {
		t.Errorf("expected numberOfReviews 1, got %v", me["numberOfReviews"])
	}
	reviewsField, ok := me["reviews"].([]interface{})
	if !ok || len(reviewsField) != 1 {
		t.Fatalf("expected one review, got %v", me["reviews"])
	}
}

// TestExecute_ParallelRootServices drives a query touching two independent
// root services (the S2 accounts branch alongside a product lookup),
// exercising the Parallel node's concurrent fan-out and merge.
func TestExecute_ParallelRootServices(t *testing.T) {
	accounts := newSubGraph(t, "accounts", `
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query {
			me: User
		}
	`, "")
	products := newSubGraph(t, "product", `
		type Product @key(fields: "upc") {
			upc: String!
			name: String!
		}
		type Query {
			topProducts: [Product!]!
		}
	`, "")

	sg, err := graph.NewSuperGraph([]*graph.SubGraph{accounts, products})
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}

	doc := parseQuery(t, `{ me { name } topProducts { name } }`)
	plan, perr := planner.Plan(sg, doc, "")
	if perr != nil {
		t.Fatalf("Plan: %v", perr)
	}

	jsonServer(t, accounts, map[string]interface{}{
		"data": map[string]interface{}{"me": map[string]interface{}{"name": "Ada"}},
	})
	jsonServer(t, products, map[string]interface{}{
		"data": map[string]interface{}{
			"topProducts": []interface{}{map[string]interface{}{"name": "Widget"}},
		},
	})

	exec := executor.NewExecutor(http.DefaultClient, sg)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data := result["data"].(map[string]interface{})
	if me, ok := data["me"].(map[string]interface{}); !ok || me["name"] != "Ada" {
		t.Errorf("expected me.name Ada, got %v", data["me"])
	}
	if top, ok := data["topProducts"].([]interface{}); !ok || len(top) != 1 {
		t.Errorf("expected one top product, got %v", data["topProducts"])
	}
}

// TestExecute_SubgraphErrorRecorded checks that a GraphQL error returned by
// a subgraph response is attributed to that service rather than aborting
// the whole plan.
func TestExecute_SubgraphErrorRecorded(t *testing.T) {
	accounts := newSubGraph(t, "accounts", `
		type User @key(fields: "id") {
			id: ID!
			name: String!
		}
		type Query {
			me: User
		}
	`, "")

	sg, err := graph.NewSuperGraph([]*graph.SubGraph{accounts})
	if err != nil {
		t.Fatalf("NewSuperGraph: %v", err)
	}

	doc := parseQuery(t, `{ me { name } }`)
	plan, perr := planner.Plan(sg, doc, "")
	if perr != nil {
		t.Fatalf("Plan: %v", perr)
	}

	jsonServer(t, accounts, map[string]interface{}{
		"data":   map[string]interface{}{"me": nil},
		"errors": []interface{}{map[string]interface{}{"message": "user not found"}},
	})

	exec := executor.NewExecutor(http.DefaultClient, sg)
	result, err := exec.Execute(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	errs, ok := result["errors"].([]executor.GraphQLError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected one recorded error, got %v", result["errors"])
	}
	if errs[0].Message != "user not found" {
		t.Errorf("expected 'user not found', got %q", errs[0].Message)
	}
	if svc := errs[0].Extensions["serviceName"]; svc != "accounts" {
		t.Errorf("expected serviceName 'accounts', got %v", svc)
	}
}
