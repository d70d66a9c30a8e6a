package graph

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
)

// SuperGraph is the composed schema produced by merging every service's
// SubGraph, together with the field ownership map and the weighted field
// graph of @provides shortcuts.
type SuperGraph struct {
	SubGraphs []*SubGraph
	Schema    *ast.Document
	Ownership map[string][]*SubGraph // "Type.field" -> services that can resolve it

	// Graph is the weighted field graph built once at composition time. The
	// planner's splitter does not consult it: a @provides shortcut does not
	// remove a cross-service hop from a plan.
	Graph *FieldGraph
}

// NewSuperGraph composes a SuperGraph out of the given services' subgraphs.
func NewSuperGraph(subGraphs []*SubGraph) (*SuperGraph, error) {
	sg := &SuperGraph{
		SubGraphs: subGraphs,
		Ownership: make(map[string][]*SubGraph),
	}

	if err := sg.composeSchema(); err != nil {
		return nil, err
	}
	if err := sg.buildOwnershipMap(); err != nil {
		return nil, err
	}

	sg.Graph = BuildFieldGraph(subGraphs)

	return sg, nil
}

func (sg *SuperGraph) composeSchema() error {
	if len(sg.SubGraphs) == 0 {
		return fmt.Errorf("federation: no services to compose")
	}

	sg.Schema = &ast.Document{Definitions: make([]ast.Definition, 0)}

	for _, subGraph := range sg.SubGraphs {
		sg.mergeSchema(subGraph.Schema)
	}

	return nil
}

func (sg *SuperGraph) mergeSchema(newSchema *ast.Document) {
	for _, newDef := range newSchema.Definitions {
		switch typed := newDef.(type) {
		case *ast.ObjectTypeDefinition:
			sg.mergeObjectTypeDefinition(typed)
		case *ast.ObjectTypeExtension:
			sg.mergeObjectTypeExtension(typed)
		case *ast.InterfaceTypeDefinition:
			sg.mergeInterfaceTypeDefinition(typed)
		case *ast.InputObjectTypeDefinition:
			sg.mergeInputObjectTypeDefinition(typed)
		case *ast.EnumTypeDefinition:
			sg.mergeEnumTypeDefinition(typed)
		case *ast.ScalarTypeDefinition:
			sg.mergeScalarTypeDefinition(typed)
		case *ast.UnionTypeDefinition:
			sg.mergeUnionTypeDefinition(typed)
		case *ast.DirectiveDefinition:
			sg.mergeDirectiveDefinition(typed)
		case *ast.SchemaDefinition:
			if sg.findSchemaDefinition() == nil {
				sg.Schema.Definitions = append(sg.Schema.Definitions, typed)
			}
		}
	}
}

func (sg *SuperGraph) findSchemaDefinition() *ast.SchemaDefinition {
	for _, def := range sg.Schema.Definitions {
		if schemaDef, ok := def.(*ast.SchemaDefinition); ok {
			return schemaDef
		}
	}
	return nil
}

func (sg *SuperGraph) findObjectTypeDefinition(name string) *ast.ObjectTypeDefinition {
	for _, def := range sg.Schema.Definitions {
		if objDef, ok := def.(*ast.ObjectTypeDefinition); ok && objDef.Name.String() == name {
			return objDef
		}
	}
	return nil
}

func (sg *SuperGraph) mergeObjectTypeDefinition(newDef *ast.ObjectTypeDefinition) {
	if existingDef := sg.findObjectTypeDefinition(newDef.Name.String()); existingDef != nil {
		existingDef.Fields = mergeFieldDefinitions(existingDef.Fields, copyFieldDefinitions(newDef.Fields))
		existingDef.Directives = append(existingDef.Directives, copyDirectives(newDef.Directives)...)
		return
	}

	sg.Schema.Definitions = append(sg.Schema.Definitions, &ast.ObjectTypeDefinition{
		Name:       newDef.Name,
		Interfaces: newDef.Interfaces,
		Fields:     copyFieldDefinitions(newDef.Fields),
		Directives: copyDirectives(newDef.Directives),
	})
}

func (sg *SuperGraph) mergeObjectTypeExtension(newExt *ast.ObjectTypeExtension) {
	existingDef := sg.findObjectTypeDefinition(newExt.Name.String())
	if existingDef == nil {
		// Extension arrived before its base definition was composed; register
		// it as a base definition so later fields still land somewhere.
		sg.Schema.Definitions = append(sg.Schema.Definitions, &ast.ObjectTypeDefinition{
			Name:       newExt.Name,
			Fields:     copyFieldDefinitions(newExt.Fields),
			Directives: copyDirectives(newExt.Directives),
		})
		return
	}
	existingDef.Fields = mergeFieldDefinitions(existingDef.Fields, copyFieldDefinitions(newExt.Fields))
	existingDef.Directives = append(existingDef.Directives, copyDirectives(newExt.Directives)...)
}

func copyFieldDefinitions(fields []*ast.FieldDefinition) []*ast.FieldDefinition {
	if fields == nil {
		return nil
	}
	copied := make([]*ast.FieldDefinition, len(fields))
	for i, field := range fields {
		copied[i] = &ast.FieldDefinition{
			Name:       field.Name,
			Arguments:  field.Arguments,
			Type:       field.Type,
			Directives: copyDirectives(field.Directives),
		}
	}
	return copied
}

func copyDirectives(directives []*ast.Directive) []*ast.Directive {
	if directives == nil {
		return nil
	}
	copied := make([]*ast.Directive, len(directives))
	for i, d := range directives {
		copied[i] = &ast.Directive{Name: d.Name, Arguments: d.Arguments}
	}
	return copied
}

func mergeFieldDefinitions(existing, incoming []*ast.FieldDefinition) []*ast.FieldDefinition {
	seen := make(map[string]bool, len(existing))
	result := make([]*ast.FieldDefinition, 0, len(existing)+len(incoming))
	for _, field := range existing {
		seen[field.Name.String()] = true
		result = append(result, field)
	}
	for _, field := range incoming {
		if !seen[field.Name.String()] {
			seen[field.Name.String()] = true
			result = append(result, field)
		}
	}
	return result
}

func (sg *SuperGraph) mergeInterfaceTypeDefinition(newDef *ast.InterfaceTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.InterfaceTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Fields = append(existing.Fields, newDef.Fields...)
			existing.Directives = append(existing.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeInputObjectTypeDefinition(newDef *ast.InputObjectTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.InputObjectTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Fields = append(existing.Fields, newDef.Fields...)
			existing.Directives = append(existing.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeEnumTypeDefinition(newDef *ast.EnumTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.EnumTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Values = append(existing.Values, newDef.Values...)
			existing.Directives = append(existing.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeScalarTypeDefinition(newDef *ast.ScalarTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.ScalarTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeUnionTypeDefinition(newDef *ast.UnionTypeDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.UnionTypeDefinition); ok && existing.Name.String() == newDef.Name.String() {
			existing.Types = append(existing.Types, newDef.Types...)
			existing.Directives = append(existing.Directives, newDef.Directives...)
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

func (sg *SuperGraph) mergeDirectiveDefinition(newDef *ast.DirectiveDefinition) {
	for _, def := range sg.Schema.Definitions {
		if existing, ok := def.(*ast.DirectiveDefinition); ok && existing.Name.String() == newDef.Name.String() {
			return
		}
	}
	sg.Schema.Definitions = append(sg.Schema.Definitions, newDef)
}

// buildOwnershipMap determines which services can resolve each "Type.field"
// pair, honoring @external and @override.
func (sg *SuperGraph) buildOwnershipMap() error {
	for _, def := range sg.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		typeName := objDef.Name.String()

		for _, field := range objDef.Fields {
			fieldName := field.Name.String()
			key := fmt.Sprintf("%s.%s", typeName, fieldName)

			var overrideFrom string
			var overrideSubGraph *SubGraph
			for _, subGraph := range sg.SubGraphs {
				entity, exists := subGraph.GetEntity(typeName)
				if !exists {
					continue
				}
				entityField, ok := entity.Fields[fieldName]
				if !ok {
					continue
				}
				if override := entityField.GetOverride(); override != nil {
					overrideFrom = override.From
					overrideSubGraph = subGraph
					break
				}
			}

			for _, subGraph := range sg.SubGraphs {
				if overrideFrom != "" && subGraph.Name == overrideFrom {
					continue
				}
				if sg.canResolveField(subGraph, typeName, fieldName) {
					sg.Ownership[key] = append(sg.Ownership[key], subGraph)
				}
			}

			if overrideSubGraph != nil {
				found := false
				for _, owner := range sg.Ownership[key] {
					if owner.Name == overrideSubGraph.Name {
						found = true
						break
					}
				}
				if !found {
					sg.Ownership[key] = append(sg.Ownership[key], overrideSubGraph)
				}
			}
		}
	}

	return nil
}

func (sg *SuperGraph) canResolveField(subGraph *SubGraph, typeName, fieldName string) bool {
	for _, def := range subGraph.Schema.Definitions {
		switch typed := def.(type) {
		case *ast.ObjectTypeDefinition:
			if typed.Name.String() != typeName {
				continue
			}
			return fieldResolvable(typed.Fields, fieldName)
		case *ast.ObjectTypeExtension:
			if typed.Name.String() != typeName {
				continue
			}
			return fieldResolvable(typed.Fields, fieldName)
		}
	}
	return false
}

func fieldResolvable(fields []*ast.FieldDefinition, fieldName string) bool {
	for _, field := range fields {
		if field.Name.String() != fieldName {
			continue
		}
		return !hasDirective(field.Directives, "external")
	}
	return false
}

// GetSubGraphsForField returns the services able to resolve "typeName.fieldName".
func (sg *SuperGraph) GetSubGraphsForField(typeName, fieldName string) []*SubGraph {
	return sg.Ownership[fmt.Sprintf("%s.%s", typeName, fieldName)]
}

// GetEntityOwnerSubGraph returns the service that owns (non-extension,
// resolvable) the named entity, falling back to the first resolvable
// extension if no base definition resolves it.
func (sg *SuperGraph) GetEntityOwnerSubGraph(typeName string) *SubGraph {
	for _, subGraph := range sg.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists && !entity.IsExtension() && entity.IsResolvable() {
			return subGraph
		}
	}
	for _, subGraph := range sg.SubGraphs {
		if entity, exists := subGraph.GetEntity(typeName); exists && entity.IsResolvable() {
			return subGraph
		}
	}
	return nil
}

// IsEntityType reports whether typeName has a resolvable @key anywhere in the graph.
func (sg *SuperGraph) IsEntityType(typeName string) bool {
	return sg.GetEntityOwnerSubGraph(typeName) != nil
}

// GetFieldOwnerSubGraph returns the first service able to resolve the field,
// in service-declaration order. Planning uses this as the default assignment
// for non-boundary fields with a single resolver.
func (sg *SuperGraph) GetFieldOwnerSubGraph(typeName, fieldName string) *SubGraph {
	owners := sg.GetSubGraphsForField(typeName, fieldName)
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

// KeyFieldSets returns every distinct @key field set declared for typeName
// across all services, in first-seen order. The splitter takes the first
// set, raising UNSATISFIABLE_KEY only when the list is empty; it does not
// check which fields are already available at a boundary.
func (sg *SuperGraph) KeyFieldSets(typeName string) [][]string {
	seen := make(map[string]bool)
	var sets [][]string
	for _, subGraph := range sg.SubGraphs {
		entity, ok := subGraph.GetEntity(typeName)
		if !ok {
			continue
		}
		for _, key := range entity.Keys {
			if !key.Resolvable {
				continue
			}
			if seen[key.FieldSet] {
				continue
			}
			seen[key.FieldSet] = true
			sets = append(sets, key.Fields())
		}
	}
	return sets
}

// PossibleTypes expands an abstract type (interface or union) to its
// concrete member type names. For a concrete object type it returns the
// type itself, so callers can treat every selection uniformly.
func (sg *SuperGraph) PossibleTypes(typeName string) []string {
	for _, def := range sg.Schema.Definitions {
		switch typed := def.(type) {
		case *ast.UnionTypeDefinition:
			if typed.Name.String() != typeName {
				continue
			}
			members := make([]string, 0, len(typed.Types))
			for _, t := range typed.Types {
				members = append(members, t.Name.String())
			}
			return members
		case *ast.InterfaceTypeDefinition:
			if typed.Name.String() != typeName {
				continue
			}
			return sg.objectTypesImplementing(typeName)
		}
	}
	return []string{typeName}
}

func (sg *SuperGraph) objectTypesImplementing(interfaceName string) []string {
	var members []string
	for _, def := range sg.Schema.Definitions {
		objDef, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		for _, iface := range objDef.Interfaces {
			if iface.Name.String() == interfaceName {
				members = append(members, objDef.Name.String())
				break
			}
		}
	}
	return members
}

// IsAbstractType reports whether typeName names an interface or a union.
func (sg *SuperGraph) IsAbstractType(typeName string) bool {
	for _, def := range sg.Schema.Definitions {
		switch typed := def.(type) {
		case *ast.UnionTypeDefinition:
			if typed.Name.String() == typeName {
				return true
			}
		case *ast.InterfaceTypeDefinition:
			if typed.Name.String() == typeName {
				return true
			}
		}
	}
	return false
}
