package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// schemaRegistration is the payload a subgraph posts to /schema/registration
// to register itself or push an updated SDL.
type schemaRegistration struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

// GenerateNextGateway decodes a subgraph's schema-registration payload,
// merges it into current's known subgraphs, and recomposes a gateway ready
// for the registry to swap in atomically. current must be a *gateway
// produced by NewGateway; it is never mutated, so the caller can keep
// serving from it until the swap happens.
func GenerateNextGateway(current http.Handler, body []byte) (http.Handler, error) {
	var reg schemaRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("decode schema registration: %w", err)
	}
	if reg.Name == "" || reg.SDL == "" {
		return nil, fmt.Errorf("schema registration requires name and sdl")
	}

	g, ok := current.(*gateway)
	if !ok {
		return nil, fmt.Errorf("cannot register a schema against a %T", current)
	}

	store := g.store.Load().(*schemaStore)
	sdls := copyMap(store.sdls)
	hosts := copyMap(store.hosts)
	sdls[reg.Name] = reg.SDL
	if reg.Host != "" {
		hosts[reg.Name] = reg.Host
	}

	engine, err := buildEngine(sdls, hosts, g.httpClient)
	if err != nil {
		return nil, err
	}

	next := &gateway{
		graphQLEndpoint:             g.graphQLEndpoint,
		serviceName:                 g.serviceName,
		httpClient:                  g.httpClient,
		enableComplementRequestId:   g.enableComplementRequestId,
		enableHangOverRequestHeader: g.enableHangOverRequestHeader,
		enableOpentelemetryTracing:  g.enableOpentelemetryTracing,
	}
	next.store.Store(&schemaStore{sdls: sdls, hosts: hosts, engine: engine})

	return next, nil
}
