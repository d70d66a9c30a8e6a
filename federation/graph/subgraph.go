package graph

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// EntityKey holds the parsed contents of a single @key directive.
type EntityKey struct {
	FieldSet   string // space-separated field set, e.g. "id" or "sku package"
	Resolvable bool
}

// Fields splits the key's FieldSet into its component field names, preserving
// declaration order. Composite keys ("sku package") split on whitespace.
func (k EntityKey) Fields() []string {
	return strings.Fields(k.FieldSet)
}

// OverrideMetadata holds the contents of an @override directive.
type OverrideMetadata struct {
	From string
}

// Field describes one field of an Entity as seen by a single service.
type Field struct {
	Name     string
	Type     ast.Type
	Requires []string
	Provides []string

	isShareable    bool
	Override       *OverrideMetadata
	isInaccessible bool
	Tags           []string
}

// IsShareable reports whether the field carries @shareable.
func (f *Field) IsShareable() bool { return f.isShareable }

// IsInaccessible reports whether the field carries @inaccessible.
func (f *Field) IsInaccessible() bool { return f.isInaccessible }

// GetTags returns the field's @tag names.
func (f *Field) GetTags() []string { return f.Tags }

// GetOverride returns the field's @override metadata, or nil.
func (f *Field) GetOverride() *OverrideMetadata { return f.Override }

// Entity is an object type keyed by one or more @key directives in a service's schema.
type Entity struct {
	Keys        []EntityKey
	isExtension bool
	Fields      map[string]*Field

	isInterfaceObject bool
}

// IsExtension reports whether this service extends the entity rather than owning it.
func (e *Entity) IsExtension() bool { return e.isExtension }

// IsResolvable reports whether at least one of the entity's keys can be used
// to resolve it via an _entities call (i.e. was not declared resolvable: false).
func (e *Entity) IsResolvable() bool {
	for _, k := range e.Keys {
		if k.Resolvable {
			return true
		}
	}
	return false
}

// IsInterfaceObject reports whether the entity carries @interfaceObject.
func (e *Entity) IsInterfaceObject() bool { return e.isInterfaceObject }

// SubGraph is one service's typed schema plus the federation metadata
// (@key/@requires/@provides/@external/...) extracted from it.
type SubGraph struct {
	Name   string
	Host   string
	Schema *ast.Document

	entities map[string]*Entity

	ComposeDirectives []string
}

// NewSubGraph parses a service's SDL and extracts its entities and their
// federation directives.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("federation: parse schema for service %q: %v", name, p.Errors())
	}

	sg := &SubGraph{
		Name:              name,
		Host:              host,
		Schema:            doc,
		entities:          make(map[string]*Entity),
		ComposeDirectives: extractSchemaComposeDirectives(doc),
	}

	for _, def := range doc.Definitions {
		switch typed := def.(type) {
		case *ast.ObjectTypeDefinition:
			if isEntity(typed.Directives) {
				sg.entities[typed.Name.String()] = buildEntity(typed.Directives, typed.Fields, false)
			}
		case *ast.ObjectTypeExtension:
			if isEntity(typed.Directives) {
				sg.entities[typed.Name.String()] = buildEntity(typed.Directives, typed.Fields, true)
			}
		}
	}

	return sg, nil
}

func buildEntity(directives []*ast.Directive, fields []*ast.FieldDefinition, isExtension bool) *Entity {
	entity := &Entity{
		Keys:              parseEntityKeys(directives),
		isExtension:       isExtension,
		Fields:            make(map[string]*Field),
		isInterfaceObject: hasDirective(directives, "interfaceObject"),
	}
	for _, field := range fields {
		entity.Fields[field.Name.String()] = parseField(field)
	}
	return entity
}

// GetEntities returns the service's entity map, keyed by type name.
func (sg *SubGraph) GetEntities() map[string]*Entity {
	return sg.entities
}

// GetEntity returns the named entity, if the service declares or extends it.
func (sg *SubGraph) GetEntity(name string) (*Entity, bool) {
	entity, ok := sg.entities[name]
	return entity, ok
}

// GetComposeDirectives returns the service's @composeDirective names.
func (sg *SubGraph) GetComposeDirectives() []string {
	return sg.ComposeDirectives
}

func isEntity(directives []*ast.Directive) bool {
	return hasDirective(directives, "key")
}

func hasDirective(directives []*ast.Directive, name string) bool {
	for _, d := range directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

func parseEntityKeys(directives []*ast.Directive) []EntityKey {
	var keys []EntityKey
	for _, d := range directives {
		if d.Name != "key" {
			continue
		}
		key := EntityKey{Resolvable: true}
		for _, arg := range d.Arguments {
			switch arg.Name.String() {
			case "fields":
				key.FieldSet = strings.Trim(arg.Value.String(), "\"")
			case "resolvable":
				if arg.Value.String() == "false" {
					key.Resolvable = false
				}
			}
		}
		keys = append(keys, key)
	}
	return keys
}

func parseField(field *ast.FieldDefinition) *Field {
	f := &Field{
		Name:     field.Name.String(),
		Type:     field.Type,
		Requires: []string{},
		Provides: []string{},
		Tags:     []string{},
	}

	for _, d := range field.Directives {
		switch d.Name {
		case "requires":
			if len(d.Arguments) > 0 {
				f.Requires = strings.Fields(strings.Trim(d.Arguments[0].Value.String(), "\""))
			}
		case "provides":
			if len(d.Arguments) > 0 {
				f.Provides = strings.Fields(strings.Trim(d.Arguments[0].Value.String(), "\""))
			}
		case "shareable":
			f.isShareable = true
		case "override":
			for _, arg := range d.Arguments {
				if arg.Name.String() == "from" {
					f.Override = &OverrideMetadata{From: strings.Trim(arg.Value.String(), "\"")}
				}
			}
		case "inaccessible":
			f.isInaccessible = true
		case "tag":
			for _, arg := range d.Arguments {
				if arg.Name.String() == "name" {
					f.Tags = append(f.Tags, strings.Trim(arg.Value.String(), "\""))
				}
			}
		}
	}

	return f
}

func extractSchemaComposeDirectives(doc *ast.Document) []string {
	var directives []string
	for _, def := range doc.Definitions {
		schemaDef, ok := def.(*ast.SchemaDefinition)
		if !ok {
			continue
		}
		for _, d := range schemaDef.Directives {
			if d.Name != "composeDirective" {
				continue
			}
			for _, arg := range d.Arguments {
				if arg.Name.String() == "name" {
					directives = append(directives, strings.Trim(arg.Value.String(), "\""))
				}
			}
		}
	}
	return directives
}

// unwrapTypeName strips List/NonNull wrappers and returns the named type.
func unwrapTypeName(t ast.Type) string {
	switch typed := t.(type) {
	case *ast.NamedType:
		return typed.Name.String()
	case *ast.ListType:
		return unwrapTypeName(typed.Type)
	case *ast.NonNullType:
		return unwrapTypeName(typed.Type)
	default:
		return ""
	}
}

// isListType reports whether t is a (possibly non-null) list type, which
// matters to the executor when flattening array insertion paths.
func isListType(t ast.Type) bool {
	switch typed := t.(type) {
	case *ast.ListType:
		return true
	case *ast.NonNullType:
		return isListType(typed.Type)
	default:
		return false
	}
}
