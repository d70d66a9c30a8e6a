package planner

import (
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"

	"github.com/whitemike889/federation-planner/federation/graph"
)

// splitter partitions one operation's selection set into fetchGroups, one
// per (service, parentType, path) triple, injecting the __typename and key
// fields each dependent group needs to build its entity representation.
type splitter struct {
	sg     *graph.SuperGraph
	arena  *groupArena
	errors []*PlannerError
}

func newSplitter(sg *graph.SuperGraph) *splitter {
	return &splitter{sg: sg, arena: newGroupArena()}
}

// split is the entry point: it assigns every root field to its owning
// service's root group, then walks each root group's original selections
// looking for boundary fields that must be split into dependent groups.
func (s *splitter) split(ctx *OperationContext) (*groupArena, *PlannerError) {
	rootBySvc := make(map[string]*fetchGroup)
	rootSelections := make(map[string][]ast.Selection)

	for _, sel := range ctx.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		fieldName := field.Name.String()
		if isMetaField(fieldName) {
			continue
		}

		owner := s.sg.GetFieldOwnerSubGraph(ctx.RootTypeName, fieldName)
		if owner == nil {
			s.errors = append(s.errors, newPlannerError(ErrOperationValidation, []string{ctx.RootTypeName, fieldName},
				"no service resolves %s.%s", ctx.RootTypeName, fieldName))
			continue
		}

		if _, ok := rootBySvc[owner.Name]; !ok {
			rootBySvc[owner.Name] = s.arena.newRootGroup(owner.Name, ctx.RootTypeName)
		}
		rootSelections[owner.Name] = append(rootSelections[owner.Name], sel)
	}

	if len(s.errors) > 0 {
		return nil, batchErrors(s.errors)
	}

	for svcName, group := range rootBySvc {
		group.selections = s.processLevel(ctx.RootTypeName, rootSelections[svcName], group, nil)
	}

	if len(s.errors) > 0 {
		return nil, batchErrors(s.errors)
	}

	return s.arena, nil
}

func isMetaField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

// processLevel filters selections down to the ones owned by group's service
// at parentType, recursing into same-service children in place. Every
// boundary field found creates or merges a dependent group; the __typename
// and key fields that group's representation needs are collected into
// `needed` and injected into this level's result once, alongside this
// level's own same-service `@requires` siblings -- both are "a sibling
// field must exist at this exact nesting", so both funnel through the same
// mechanism.
func (s *splitter) processLevel(parentType string, selections []ast.Selection, group *fetchGroup, path []string) []ast.Selection {
	if s.sg.IsAbstractType(parentType) {
		return s.splitAbstract(parentType, selections, group, path)
	}

	result := make([]ast.Selection, 0, len(selections))
	hasTypename := false

	var needed []string
	haveNeeded := make(map[string]bool)
	addNeeded := func(names []string) {
		for _, n := range names {
			if !haveNeeded[n] {
				haveNeeded[n] = true
				needed = append(needed, n)
			}
		}
	}

	for _, sel := range selections {
		switch fld := sel.(type) {
		case *ast.Field:
			fieldName := fld.Name.String()
			if fieldName == "__typename" {
				hasTypename = true
				result = append(result, typenameField())
				continue
			}

			owner := s.sg.GetFieldOwnerSubGraph(parentType, fieldName)
			if owner == nil {
				s.errors = append(s.errors, newPlannerError(ErrOperationValidation, append(path, fieldName),
					"no service resolves %s.%s", parentType, fieldName))
				continue
			}

			fieldIdentifier := fieldName
			if fld.Alias != nil && fld.Alias.String() != "" {
				fieldIdentifier = fld.Alias.String()
			}
			childPath := s.pushPath(path, parentType, fieldName, fieldIdentifier)

			if owner.Name == group.service {
				built, requires := s.appendResolvedField(fld, parentType, fieldName, owner.Name, group, path, childPath)
				if built != nil {
					result = append(result, built)
				}
				addNeeded(requires)
				continue
			}

			addNeeded(s.splitBoundaryField(fld, parentType, fieldName, owner, group, path))

		case *ast.InlineFragment:
			typeCond := fld.TypeCondition.Name.String()
			sub := s.processLevel(typeCond, fld.SelectionSet, group, path)
			if len(sub) > 0 {
				result = append(result, &ast.InlineFragment{TypeCondition: fld.TypeCondition, SelectionSet: sub})
			}
		}
	}

	existing := fieldNameSet(result)
	needTypename := hasTypename
	for _, name := range needed {
		if name == "__typename" {
			needTypename = true
			continue
		}
		if !existing[name] {
			result = append(result, simpleField(name))
			existing[name] = true
		}
	}

	isRootType := parentType == "Query" || parentType == "Mutation" || parentType == "Subscription"
	if !needTypename && !isRootType && len(result) > 0 {
		needTypename = true
	}
	if needTypename && !hasTypename {
		result = append([]ast.Selection{typenameField()}, result...)
	}

	return result
}

// appendResolvedField builds the field this group will send for a
// same-service field, recursing into its children. A field with @requires
// entirely satisfied by its own service (or already by the current group's
// service) keeps its sameLevelNeeds as plain siblings at this level. A
// field whose @requires reaches a different service cannot resolve here at
// all: it is deferred to a new group attached behind a representation hop
// that first collects those required fields (see attachWithRequires), and
// this call returns a nil selection since the field no longer belongs at
// this level.
func (s *splitter) appendResolvedField(fld *ast.Field, parentType, fieldName, serviceName string, group *fetchGroup, path, childPath []string) (ast.Selection, []string) {
	childType := s.fieldType(parentType, fieldName)
	meta := s.fieldMeta(parentType, fieldName, serviceName)

	if meta != nil && s.hasForeignRequires(parentType, meta.Requires, serviceName) {
		target, parentNeeds, perr := s.attachWithRequires(parentType, serviceName, meta.Requires, group, path)
		if perr != nil {
			s.errors = append(s.errors, perr)
			return nil, nil
		}

		newField := &ast.Field{Alias: fld.Alias, Name: fld.Name, Arguments: fld.Arguments, Directives: fld.Directives}
		if len(fld.SelectionSet) > 0 {
			newField.SelectionSet = s.processLevel(childType, fld.SelectionSet, target, childPath)
			if len(newField.SelectionSet) == 0 {
				newField.SelectionSet = []ast.Selection{typenameField()}
			}
		}
		target.selections = mergeFieldInto(target.selections, newField)
		return nil, parentNeeds
	}

	var sameLevelNeeds []string
	if meta != nil {
		sameLevelNeeds = meta.Requires
	}

	newField := &ast.Field{Alias: fld.Alias, Name: fld.Name, Arguments: fld.Arguments, Directives: fld.Directives}
	if len(fld.SelectionSet) > 0 {
		newField.SelectionSet = s.processLevel(childType, fld.SelectionSet, group, childPath)
		if len(newField.SelectionSet) == 0 {
			newField.SelectionSet = []ast.Selection{typenameField()}
		}
	}
	return newField, sameLevelNeeds
}

func (s *splitter) hasForeignRequires(parentType string, requires []string, serviceName string) bool {
	for _, req := range requires {
		if owner := s.sg.GetFieldOwnerSubGraph(parentType, req); owner != nil && owner.Name != serviceName {
			return true
		}
	}
	return false
}

// splitBoundaryField handles a field on an entity (parentType) owned by a
// service other than group's. The field disappears from the current level
// entirely -- it is merged into a dependent group for owner, keyed by
// (owner, parentType, path) -- and the caller must ensure __typename plus
// the chosen key (and any parent-owned @requires fields) are present as
// siblings at the current level so that group's representation can be
// built (keyNames).
func (s *splitter) splitBoundaryField(fld *ast.Field, parentType, fieldName string, owner *graph.SubGraph, parent *fetchGroup, path []string) []string {
	childType := s.fieldType(parentType, fieldName)

	var requires []string
	if meta := s.fieldMeta(parentType, fieldName, owner.Name); meta != nil {
		requires = meta.Requires
	}

	dep, parentNeeds, perr := s.attachWithRequires(parentType, owner.Name, requires, parent, path)
	if perr != nil {
		s.errors = append(s.errors, perr)
		return nil
	}

	identifier := fieldName
	if fld.Alias != nil && fld.Alias.String() != "" {
		identifier = fld.Alias.String()
	}
	built := s.processLevel(childType, fld.SelectionSet, dep, s.pushPath(path, parentType, fieldName, identifier))
	dep.selections = mergeFieldInto(dep.selections, &ast.Field{
		Alias:        fld.Alias,
		Name:         fld.Name,
		Arguments:    fld.Arguments,
		SelectionSet: built,
	})
	return parentNeeds
}

// attachWithRequires finds or creates the dependent group that will resolve
// an entity field for fieldOwnerService, folding in whatever @requires
// fields that field declares. Required fields already owned by the parent
// group's service are simply added to parentNeeds (the caller's own
// representation grows, no extra hop). Required fields owned by some other,
// third service introduce an additional representation hop: a group for
// that third service is attached behind the parent, and the returned group
// depends on *that* hop instead, carrying the required fields themselves
// (not the entity's declared key) as its representation -- mirroring how a
// field can only resolve once the data it requires has actually arrived.
func (s *splitter) attachWithRequires(entityType, fieldOwnerService string, requires []string, parent *fetchGroup, path []string) (*fetchGroup, []string, *PlannerError) {
	key, perr := s.chooseKey(entityType, path)
	if perr != nil {
		return nil, nil, perr
	}

	parentNeeds := append([]string{"__typename"}, key...)

	var sameAsFieldOwner []string
	var otherOwner *graph.SubGraph
	var otherFields []string
	for _, req := range requires {
		owner := s.sg.GetFieldOwnerSubGraph(entityType, req)
		switch {
		case owner == nil:
			continue
		case owner.Name == fieldOwnerService:
			sameAsFieldOwner = append(sameAsFieldOwner, req)
		case owner.Name == parent.service:
			parentNeeds = append(parentNeeds, req)
			sameAsFieldOwner = append(sameAsFieldOwner, req)
		default:
			if otherOwner == nil {
				otherOwner = owner
			}
			if owner.Name == otherOwner.Name {
				otherFields = append(otherFields, req)
			}
		}
	}

	depPath := joinPath(path)
	dependsOn := parent.id
	repFields := append(append([]string{}, key...), sameAsFieldOwner...)

	if otherOwner != nil {
		reqGroup, created := s.arena.findOrCreate(otherOwner.Name, entityType, depPath, parent.id)
		if created {
			reqGroup.requires = &Representation{TypeName: entityType, KeyFields: keySelections(key)}
			reqGroup.insertionPath = path
		}
		for _, f := range otherFields {
			reqGroup.selections = appendFieldIfMissing(reqGroup.selections, f)
		}
		dependsOn = reqGroup.id
		repFields = otherFields
	}

	target, created := s.arena.findOrCreate(fieldOwnerService, entityType, depPath, dependsOn)
	if created {
		target.requires = &Representation{TypeName: entityType, KeyFields: keySelections(dedupeStrings(repFields))}
		target.insertionPath = path
	}

	return target, dedupeStrings(parentNeeds), nil
}

// chooseKey picks the first (declaration-order) @key field set resolvable
// for entityType, raising UNSATISFIABLE_KEY if the entity has none.
func (s *splitter) chooseKey(entityType string, path []string) ([]string, *PlannerError) {
	sets := s.sg.KeyFieldSets(entityType)
	if len(sets) == 0 {
		return nil, newPlannerError(ErrUnsatisfiableKey, path, "%s has no resolvable @key", entityType)
	}
	return sets[0], nil
}

// splitAbstract expands an interface/union selection set into one inline
// fragment per possible concrete type, per-type-splitting even when every
// member happens to be owned by the same service, since a future member
// added to only one service must not silently break planning.
func (s *splitter) splitAbstract(typeName string, selections []ast.Selection, group *fetchGroup, path []string) []ast.Selection {
	sharedFields, typedSelections := partitionAbstractSelections(selections, typeName)

	// A field selected directly on the interface/union has no owner of its
	// own to resolve against (the abstract type isn't indexed in the
	// ownership map) -- it only has meaning once merged into each concrete
	// member's own selections below.
	var fragments []ast.Selection
	for _, concreteType := range s.sg.PossibleTypes(typeName) {
		merged := append(append([]ast.Selection{}, sharedFields...), typedSelections[concreteType]...)
		if len(merged) == 0 {
			continue
		}
		built := s.processLevel(concreteType, merged, group, path)
		if len(built) > 0 {
			fragments = append(fragments, &ast.InlineFragment{
				TypeCondition: namedType(concreteType),
				SelectionSet:  built,
			})
		}
	}

	if len(fragments) == 0 {
		return nil
	}
	return append([]ast.Selection{typenameField()}, fragments...)
}

// partitionAbstractSelections splits an abstract type's selections into the
// fields requested directly on the interface/union and the inline fragments
// keyed by their concrete type.
func partitionAbstractSelections(selections []ast.Selection, abstractType string) ([]ast.Selection, map[string][]ast.Selection) {
	var shared []ast.Selection
	typed := make(map[string][]ast.Selection)

	for _, sel := range selections {
		switch fld := sel.(type) {
		case *ast.Field:
			shared = append(shared, fld)
		case *ast.InlineFragment:
			typeCond := fld.TypeCondition.Name.String()
			if typeCond == abstractType {
				shared = append(shared, fld.SelectionSet...)
				continue
			}
			typed[typeCond] = append(typed[typeCond], fld.SelectionSet...)
		}
	}

	return shared, typed
}

// pushPath appends fieldIdentifier (the response key: alias if present,
// else field name) to path, additionally appending an "@" array-fan-out
// segment when fieldName's declared type on parentType is a list.
func (s *splitter) pushPath(path []string, parentType, fieldName, fieldIdentifier string) []string {
	next := append(append([]string{}, path...), fieldIdentifier)
	if s.isListField(parentType, fieldName) {
		next = append(next, "@")
	}
	return next
}

func (s *splitter) fieldType(parentType, fieldName string) string {
	return fieldTypeName(s.sg, parentType, fieldName)
}

func (s *splitter) isListField(parentType, fieldName string) bool {
	return isListType(rawFieldType(s.sg, parentType, fieldName))
}

// fieldTypeName looks up the return type of parentType.fieldName in the
// composed schema, unwrapping List/NonNull wrappers.
func fieldTypeName(sg *graph.SuperGraph, parentType, fieldName string) string {
	if fieldName == "__typename" {
		return "String"
	}
	return unwrapNamedType(rawFieldType(sg, parentType, fieldName))
}

// rawFieldType returns parentType.fieldName's declared type exactly as
// written in the schema, List/NonNull wrappers intact.
func rawFieldType(sg *graph.SuperGraph, parentType, fieldName string) ast.Type {
	for _, def := range sg.Schema.Definitions {
		td, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || td.Name.String() != parentType {
			continue
		}
		for _, field := range td.Fields {
			if field.Name.String() == fieldName {
				return field.Type
			}
		}
	}
	return nil
}

func (s *splitter) fieldMeta(parentType, fieldName, serviceName string) *graph.Field {
	for _, subGraph := range s.sg.SubGraphs {
		if subGraph.Name != serviceName {
			continue
		}
		entity, ok := subGraph.GetEntity(parentType)
		if !ok {
			return nil
		}
		field, ok := entity.Fields[fieldName]
		if !ok {
			return nil
		}
		return field
	}
	return nil
}

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

func unwrapNamedType(t ast.Type) string {
	switch typed := t.(type) {
	case *ast.NamedType:
		return typed.Name.String()
	case *ast.ListType:
		return unwrapNamedType(typed.Type)
	case *ast.NonNullType:
		return unwrapNamedType(typed.Type)
	default:
		return ""
	}
}

func namedType(name string) *ast.NamedType {
	return &ast.NamedType{Name: &ast.Name{Token: token.Token{Type: token.IDENT, Literal: name}, Value: name}}
}

func typenameField() *ast.Field {
	return &ast.Field{Name: &ast.Name{Token: token.Token{Type: token.IDENT, Literal: "__typename"}, Value: "__typename"}}
}

func simpleField(name string) *ast.Field {
	return &ast.Field{Name: &ast.Name{Token: token.Token{Type: token.IDENT, Literal: name}, Value: name}}
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

func keySelections(fields []string) []ast.Selection {
	sels := make([]ast.Selection, 0, len(fields)+1)
	sels = append(sels, typenameField())
	for _, f := range fields {
		sels = append(sels, simpleField(f))
	}
	return sels
}

func fieldsFromNames(names []string) []ast.Selection {
	sels := make([]ast.Selection, 0, len(names))
	for _, n := range names {
		if n == "__typename" {
			sels = append(sels, typenameField())
			continue
		}
		sels = append(sels, simpleField(n))
	}
	return sels
}

func dedupeStrings(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func fieldNameSet(selections []ast.Selection) map[string]bool {
	set := make(map[string]bool, len(selections))
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok {
			id := f.Name.String()
			if f.Alias != nil && f.Alias.String() != "" {
				id = f.Alias.String()
			}
			set[id] = true
		}
	}
	return set
}

func appendFieldIfMissing(selections []ast.Selection, name string) []ast.Selection {
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() == name {
			return selections
		}
	}
	return append(selections, simpleField(name))
}

// mergeFieldInto appends a field to selections, merging its SelectionSet
// into an existing same-name field instead of duplicating the field node.
func mergeFieldInto(selections []ast.Selection, newField *ast.Field) []ast.Selection {
	targetName := newField.Name.String()
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok && f.Name.String() == targetName {
			f.SelectionSet = mergeSelections(f.SelectionSet, newField.SelectionSet)
			return selections
		}
	}
	return append(selections, newField)
}

// mergeSelections appends incoming selections to existing, skipping fields
// already present by name (or alias) to keep a merged group free of
// duplicate leaves as boundary fields accumulate from multiple sibling paths.
func mergeSelections(existing, incoming []ast.Selection) []ast.Selection {
	seen := fieldNameSet(existing)
	for _, sel := range incoming {
		if f, ok := sel.(*ast.Field); ok {
			id := f.Name.String()
			if f.Alias != nil && f.Alias.String() != "" {
				id = f.Alias.String()
			}
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		existing = append(existing, sel)
	}
	return existing
}
