package graph_test

import (
	"testing"

	"github.com/whitemike889/federation-planner/federation/graph"
)

func TestNewSubGraph(t *testing.T) {
	schema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Float!
		}

		type Query {
			product(id: ID!): Product
		}
	`

	sg, err := graph.NewSubGraph("product", []byte(schema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	if sg.Name != "product" {
		t.Errorf("expected name 'product', got '%s'", sg.Name)
	}
	if sg.Host != "http://product.example.com" {
		t.Errorf("expected host 'http://product.example.com', got '%s'", sg.Host)
	}

	entities := sg.GetEntities()
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}

	productEntity, ok := entities["Product"]
	if !ok {
		t.Fatal("Product entity not found")
	}

	if len(productEntity.Keys) != 1 {
		t.Errorf("expected 1 key, got %d", len(productEntity.Keys))
	}
	if productEntity.Keys[0].FieldSet != "id" {
		t.Errorf("expected key field 'id', got '%s'", productEntity.Keys[0].FieldSet)
	}
	if !productEntity.Keys[0].Resolvable {
		t.Error("expected key to be resolvable")
	}
	if productEntity.IsExtension() {
		t.Error("expected Product entity to not be an extension")
	}
	if len(productEntity.Fields) != 3 {
		t.Errorf("expected 3 fields, got %d", len(productEntity.Fields))
	}
}

func TestNewSubGraph_WithExtension(t *testing.T) {
	schema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
		}

		type Review {
			id: ID!
			rating: Int!
		}
	`

	sg, err := graph.NewSubGraph("review", []byte(schema), "http://review.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	productEntity, ok := sg.GetEntities()["Product"]
	if !ok {
		t.Fatal("Product entity not found")
	}
	if !productEntity.IsExtension() {
		t.Error("expected Product entity to be an extension")
	}
}

func TestNewSubGraph_WithRequiresAndProvides(t *testing.T) {
	schema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			name: String! @external
			reviews: [Review!]! @requires(fields: "name")
		}

		type Review {
			id: ID!
			rating: Int!
			product: Product @provides(fields: "name")
		}
	`

	sg, err := graph.NewSubGraph("review", []byte(schema), "http://review.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	productEntity, ok := sg.GetEntities()["Product"]
	if !ok {
		t.Fatal("Product entity not found")
	}

	reviewsField, ok := productEntity.Fields["reviews"]
	if !ok {
		t.Fatal("reviews field not found")
	}
	if len(reviewsField.Requires) != 1 || reviewsField.Requires[0] != "name" {
		t.Errorf("expected requires 'name', got %v", reviewsField.Requires)
	}
}

func TestNewSubGraph_WithShareable(t *testing.T) {
	schema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String! @shareable
		}
	`

	sg, err := graph.NewSubGraph("product", []byte(schema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	productEntity, ok := sg.GetEntities()["Product"]
	if !ok {
		t.Fatal("Product entity not found")
	}

	nameField, ok := productEntity.Fields["name"]
	if !ok {
		t.Fatal("name field not found")
	}
	if !nameField.IsShareable() {
		t.Error("expected name field to be shareable")
	}
}

func TestNewSubGraph_WithNonResolvableKey(t *testing.T) {
	schema := `
		type Product @key(fields: "id", resolvable: false) {
			id: ID!
			name: String!
		}
	`

	sg, err := graph.NewSubGraph("product", []byte(schema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	productEntity, ok := sg.GetEntities()["Product"]
	if !ok {
		t.Fatal("Product entity not found")
	}
	if len(productEntity.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(productEntity.Keys))
	}
	if productEntity.Keys[0].Resolvable {
		t.Error("expected key to be non-resolvable")
	}
}

func TestNewSubGraph_WithCompositeKey(t *testing.T) {
	schema := `
		type Inventory @key(fields: "sku package") {
			sku: String!
			package: String!
			inStock: Boolean!
		}
	`

	sg, err := graph.NewSubGraph("inventory", []byte(schema), "http://inventory.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed: %v", err)
	}

	entity, ok := sg.GetEntities()["Inventory"]
	if !ok {
		t.Fatal("Inventory entity not found")
	}
	if got := entity.Keys[0].Fields(); len(got) != 2 || got[0] != "sku" || got[1] != "package" {
		t.Errorf("expected composite key fields [sku package], got %v", got)
	}
}
