package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/whitemike889/federation-planner/federation/executor"
	"github.com/whitemike889/federation-planner/federation/planner"
)

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint"`
	ServiceName                 string               `yaml:"service_name"`
	Port                        int                  `yaml:"port"`
	TimeoutDuration             string               `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []GatewayService     `yaml:"services"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

// gateway serves GraphQL requests over a hot-swappable schemaStore: the
// store can be replaced wholesale by GenerateNextGateway without disturbing
// in-flight requests reading the old one.
type gateway struct {
	graphQLEndpoint string
	serviceName     string
	httpClient      *http.Client
	store           atomic.Value // *schemaStore

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
	enableOpentelemetryTracing  bool
	tracerProvider              *sdktrace.TracerProvider
}

var _ http.Handler = (*gateway)(nil)

func NewGateway(settings GatewayOption) (*gateway, error) {
	sdls := make(map[string]string, len(settings.Services))
	hosts := make(map[string]string, len(settings.Services))
	for _, s := range settings.Services {
		var schema []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			schema = append(schema, src...)
		}
		sdls[s.Name] = string(schema)
		hosts[s.Name] = s.Host
	}

	timeout := 5 * time.Second
	if settings.TimeoutDuration != "" {
		if d, err := time.ParseDuration(settings.TimeoutDuration); err == nil {
			timeout = d
		}
	}
	httpClient := &http.Client{Timeout: timeout}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	engine, err := buildEngine(sdls, hosts, httpClient)
	if err != nil {
		return nil, err
	}

	g := &gateway{
		graphQLEndpoint:             settings.Endpoint,
		serviceName:                 settings.ServiceName,
		httpClient:                  httpClient,
		enableComplementRequestId:   true,
		enableHangOverRequestHeader: settings.EnableHangOverRequestHeader,
		enableOpentelemetryTracing:  settings.Opentelemetry.TracingSetting.Enable,
	}
	g.store.Store(&schemaStore{sdls: sdls, hosts: hosts, engine: engine})

	if g.enableOpentelemetryTracing {
		tp, err := setupTracing(context.Background(), settings.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		g.tracerProvider = tp
	}

	return g, nil
}

// Shutdown flushes and stops the gateway's tracer provider, if tracing is enabled.
func (g *gateway) Shutdown(ctx context.Context) error {
	if g.tracerProvider == nil {
		return nil
	}
	return g.tracerProvider.Shutdown(ctx)
}

func (g *gateway) currentEngine() *executionEngine {
	return g.store.Load().(*schemaStore).engine
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if g.enableComplementRequestId && r.Header.Get("X-Request-Id") == "" {
		r.Header.Set("X-Request-Id", uuid.NewString())
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if g.enableOpentelemetryTracing {
		var span trace.Span
		ctx, span = otel.Tracer("federation-gateway").Start(ctx, "graphql.request")
		defer span.End()
	}
	if g.enableHangOverRequestHeader {
		ctx = executor.SetRequestHeaderToContext(ctx, r.Header)
	}

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"errors": p.Errors(),
		})
		return
	}

	engine := g.currentEngine()

	// Validate @inaccessible fields
	if err := g.validateAccessibility(engine, doc); err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{
					"message":    err.Error(),
					"extensions": map[string]string{"code": "INACCESSIBLE_FIELD"},
				},
			},
		})
		return
	}

	opCtx, operr := planner.NewOperationContext(engine.superGraph, doc, req.OperationName)
	if operr != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []string{operr.Error()},
		})
		return
	}

	plan, perr := planner.Plan(engine.superGraph, doc, req.OperationName)
	if perr != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []string{perr.Error()},
		})
		return
	}

	resp, err := engine.executor.Execute(ctx, plan, req.Variables)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []string{err.Error()},
		})
		return
	}
	resp = executor.Prune(resp, opCtx.SelectionSet)

	w.Header().Set("Content-Type", "application/json")
	if g.enableComplementRequestId {
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
	}
	json.NewEncoder(w).Encode(resp)
}

func (g *gateway) Start(port int) error {
	fmt.Printf("Gateway started on port %d\n", port)
	return http.ListenAndServe(fmt.Sprintf(":%d", port), g)
}

// validateAccessibility validates that no @inaccessible fields are queried.
func (g *gateway) validateAccessibility(engine *executionEngine, doc *ast.Document) error {
	for _, def := range doc.Definitions {
		if opDef, ok := def.(*ast.OperationDefinition); ok {
			rootTypeName := "Query"
			switch opDef.Operation {
			case ast.Query:
				rootTypeName = "Query"
			case ast.Mutation:
				rootTypeName = "Mutation"
			case ast.Subscription:
				rootTypeName = "Subscription"
			}

			if err := g.validateSelectionSet(engine, opDef.SelectionSet, rootTypeName); err != nil {
				return err
			}
		}
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			if err := g.validateSelectionSet(engine, fragDef.SelectionSet, fragDef.TypeCondition.Name.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSelectionSet recursively validates selections.
func (g *gateway) validateSelectionSet(engine *executionEngine, selSet []ast.Selection, parentTypeName string) error {
	if selSet == nil {
		return nil
	}

	for _, sel := range selSet {
		switch s := sel.(type) {
		case *ast.Field:
			fieldName := s.Name.String()

			// Skip introspection fields
			if fieldName == "__typename" || fieldName == "__schema" || fieldName == "__type" {
				continue
			}

			// Check if field is inaccessible
			if err := g.checkFieldAccessibility(engine, parentTypeName, fieldName); err != nil {
				return err
			}

			// Get the field type for recursive validation
			nextTypeName := g.getFieldTypeName(engine, parentTypeName, fieldName)
			if nextTypeName != "" {
				if err := g.validateSelectionSet(engine, s.SelectionSet, nextTypeName); err != nil {
					return err
				}
			}

		case *ast.FragmentSpread:
			// The spread's fields are checked where validateAccessibility
			// walks the fragment's own definition, so nothing to do here.

		case *ast.InlineFragment:
			typeCondition := ""
			if s.TypeCondition != nil {
				typeCondition = s.TypeCondition.String()
			}
			if typeCondition == "" {
				typeCondition = parentTypeName
			}
			if err := g.validateSelectionSet(engine, s.SelectionSet, typeCondition); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkFieldAccessibility checks if a field is inaccessible.
func (g *gateway) checkFieldAccessibility(engine *executionEngine, typeName, fieldName string) error {
	for _, subGraph := range engine.superGraph.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists {
			if field, ok := entity.Fields[fieldName]; ok {
				if field.IsInaccessible() {
					return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
				}
			}
		}

		// Also check non-entity types in the schema
		for _, def := range subGraph.Schema.Definitions {
			if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
				if objDef.Name.String() == typeName {
					for _, f := range objDef.Fields {
						if f.Name.String() == fieldName {
							// Check for @inaccessible directive
							for _, d := range f.Directives {
								if d.Name == "inaccessible" {
									return fmt.Errorf("Cannot query field \"%s\" on type \"%s\"", fieldName, typeName)
								}
							}
						}
					}
				}
			}
		}
	}

	return nil
}

// getFieldTypeName returns the type name of a field.
func (g *gateway) getFieldTypeName(engine *executionEngine, typeName, fieldName string) string {
	for _, def := range engine.superGraph.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok {
			if objDef.Name.String() == typeName {
				for _, field := range objDef.Fields {
					if field.Name.String() == fieldName {
						return g.unwrapTypeName(field.Type)
					}
				}
			}
		}
	}
	return ""
}

// unwrapTypeName extracts the base type name from a type.
func (g *gateway) unwrapTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return g.unwrapTypeName(typ.Type)
	case *ast.NonNullType:
		return g.unwrapTypeName(typ.Type)
	}
	return ""
}
