package server

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/whitemike889/federation-planner/gateway"
)

// Init scaffolds a default gateway.yaml in the working directory, refusing
// to overwrite one that already exists.
func Init() error {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return fmt.Errorf("%s already exists", defaultConfigPath)
	}

	settings := gateway.GatewayOption{
		Endpoint:        "/graphql",
		ServiceName:     "federation-gateway",
		Port:            8080,
		TimeoutDuration: "5s",
		Services: []gateway.GatewayService{
			{Name: "accounts", Host: "http://localhost:4001/query", SchemaFiles: []string{"schemas/accounts.graphql"}},
			{Name: "product", Host: "http://localhost:4002/query", SchemaFiles: []string{"schemas/product.graphql"}},
			{Name: "reviews", Host: "http://localhost:4003/query", SchemaFiles: []string{"schemas/reviews.graphql"}},
		},
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(defaultConfigPath, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", defaultConfigPath, err)
	}

	fmt.Printf("wrote %s\n", defaultConfigPath)
	return nil
}
