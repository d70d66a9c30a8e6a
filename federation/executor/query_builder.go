package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/graphql-parser/ast"

	"github.com/whitemike889/federation-planner/federation/graph"
	"github.com/whitemike889/federation-planner/federation/planner"
)

// QueryBuilder renders a planner.Fetch into the request text and variables
// to send to its service: a root query/mutation when the fetch has no
// Requires, or an _entities representation lookup when it does.
type QueryBuilder struct {
	schema *ast.Document
}

// NewQueryBuilder builds requests against sg's composed schema, used to
// resolve nested field types while writing selection sets and argument
// variable types.
func NewQueryBuilder(sg *graph.SuperGraph) *QueryBuilder {
	return &QueryBuilder{schema: sg.Schema}
}

// Build renders fetch as request text plus the subset of variables it uses.
// operationType only applies to a root fetch; an _entities fetch is always
// a query regardless of the containing operation, since _entities is itself
// a query-type root field in every federated service's schema.
func (qb *QueryBuilder) Build(fetch *planner.Fetch, representations []map[string]interface{}, variables map[string]interface{}, operationType string) (string, map[string]interface{}, error) {
	if fetch.Requires == nil {
		return qb.buildRootQuery(fetch, variables, operationType)
	}
	return qb.buildEntityQuery(fetch, representations, variables)
}

func (qb *QueryBuilder) buildRootQuery(fetch *planner.Fetch, variables map[string]interface{}, operationType string) (string, map[string]interface{}, error) {
	var sb strings.Builder
	varNames := qb.collectVariables(fetch.Selections)

	if operationType == "" {
		operationType = "query"
	}

	sb.WriteString(operationType)
	if len(varNames) > 0 {
		sb.WriteString(" (")
		for i, name := range varNames {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(qb.variableType(name, fetch, variables))
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")
	for _, sel := range fetch.Selections {
		if err := qb.writeSelection(&sb, sel, "\t", fetch.ParentType); err != nil {
			return "", nil, err
		}
	}
	sb.WriteString("}")

	used := make(map[string]interface{}, len(varNames))
	for _, name := range varNames {
		if v, ok := variables[name]; ok {
			used[name] = v
		}
	}
	return sb.String(), used, nil
}

func (qb *QueryBuilder) buildEntityQuery(fetch *planner.Fetch, representations []map[string]interface{}, variables map[string]interface{}) (string, map[string]interface{}, error) {
	if len(representations) == 0 {
		return "", nil, fmt.Errorf("federation: representations cannot be empty for entity fetch on %s", fetch.ParentType)
	}

	var sb strings.Builder
	sb.WriteString("query ($representations: [_Any!]!) {\n")
	sb.WriteString("\t_entities(representations: $representations) {\n")
	sb.WriteString("\t\t... on ")
	sb.WriteString(fetch.ParentType)
	sb.WriteString(" {\n")
	for _, sel := range fetch.Selections {
		if err := qb.writeSelection(&sb, sel, "\t\t\t", fetch.ParentType); err != nil {
			return "", nil, err
		}
	}
	sb.WriteString("\t\t}\n\t}\n}")

	vars := make(map[string]interface{}, len(variables)+1)
	for k, v := range variables {
		vars[k] = v
	}
	vars["representations"] = representations
	return sb.String(), vars, nil
}

func (qb *QueryBuilder) collectVariables(selections []ast.Selection) []string {
	vars := make(map[string]bool)
	qb.collectVariablesRecursive(selections, vars)
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (qb *QueryBuilder) collectVariablesRecursive(selections []ast.Selection, vars map[string]bool) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				qb.collectVariablesFromValue(arg.Value, vars)
			}
			if len(s.SelectionSet) > 0 {
				qb.collectVariablesRecursive(s.SelectionSet, vars)
			}
		case *ast.InlineFragment:
			qb.collectVariablesRecursive(s.SelectionSet, vars)
		}
	}
}

func (qb *QueryBuilder) collectVariablesFromValue(val ast.Value, vars map[string]bool) {
	switch v := val.(type) {
	case *ast.Variable:
		vars[v.Name] = true
	case *ast.ListValue:
		for _, item := range v.Values {
			qb.collectVariablesFromValue(item, vars)
		}
	case *ast.ObjectValue:
		for _, field := range v.Fields {
			qb.collectVariablesFromValue(field.Value, vars)
		}
	}
}

// variableType infers a variable's GraphQL type for the operation header,
// preferring the schema's own declared argument type over a guess from the
// runtime value.
func (qb *QueryBuilder) variableType(name string, fetch *planner.Fetch, variables map[string]interface{}) string {
	if t := qb.variableTypeFromSelections(name, fetch.Selections, fetch.ParentType); t != "" {
		return t
	}
	switch variables[name].(type) {
	case string:
		return "String"
	case int, int32, int64, float64:
		return "Int"
	case bool:
		return "Boolean"
	}
	return "String"
}

func (qb *QueryBuilder) variableTypeFromSelections(name string, selections []ast.Selection, parentType string) string {
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		for _, arg := range field.Arguments {
			if v, ok := arg.Value.(*ast.Variable); ok && v.Name == name {
				if t := qb.argumentType(parentType, field.Name.String(), arg.Name.String()); t != "" {
					return t
				}
			}
		}
		if len(field.SelectionSet) > 0 {
			childType := qb.fieldType(parentType, field.Name.String())
			if t := qb.variableTypeFromSelections(name, field.SelectionSet, childType); t != "" {
				return t
			}
		}
	}
	return ""
}

func (qb *QueryBuilder) argumentType(parentType, fieldName, argName string) string {
	for _, def := range qb.schema.Definitions {
		objType, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objType.Name.String() != parentType {
			continue
		}
		for _, field := range objType.Fields {
			if field.Name.String() != fieldName {
				continue
			}
			for _, arg := range field.Arguments {
				if arg.Name.String() == argName {
					return arg.Type.String()
				}
			}
		}
	}
	return ""
}

func (qb *QueryBuilder) fieldType(parentType, fieldName string) string {
	for _, def := range qb.schema.Definitions {
		objType, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objType.Name.String() != parentType {
			continue
		}
		for _, field := range objType.Fields {
			if field.Name.String() == fieldName {
				return extractBaseTypeName(field.Type.String())
			}
		}
	}
	return ""
}

// extractBaseTypeName strips List/NonNull syntax, e.g. "[Product!]!" -> "Product".
func extractBaseTypeName(typeStr string) string {
	cleaned := strings.ReplaceAll(typeStr, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")
	cleaned = strings.ReplaceAll(cleaned, "!", "")
	return cleaned
}

func (qb *QueryBuilder) writeSelection(sb *strings.Builder, sel ast.Selection, indent string, parentType string) error {
	switch s := sel.(type) {
	case *ast.Field:
		fieldName := s.Name.String()
		sb.WriteString(indent)
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(fieldName)

		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				qb.writeValue(sb, arg.Value)
			}
			sb.WriteString(")")
		}

		if len(s.SelectionSet) > 0 {
			childType := qb.fieldType(parentType, fieldName)
			sb.WriteString(" {\n")
			for _, sub := range s.SelectionSet {
				if err := qb.writeSelection(sb, sub, indent+"\t", childType); err != nil {
					return err
				}
			}
			sb.WriteString(indent)
			sb.WriteString("}")
		}
		sb.WriteString("\n")

	case *ast.InlineFragment:
		sb.WriteString(indent)
		sb.WriteString("... on ")
		typeCondition := s.TypeCondition.Name.String()
		sb.WriteString(typeCondition)
		sb.WriteString(" {\n")
		for _, sub := range s.SelectionSet {
			if err := qb.writeSelection(sb, sub, indent+"\t", typeCondition); err != nil {
				return err
			}
		}
		sb.WriteString(indent)
		sb.WriteString("}\n")

	case *ast.FragmentSpread:
		sb.WriteString(indent)
		sb.WriteString("...")
		sb.WriteString(s.Name.String())
		sb.WriteString("\n")
	}

	return nil
}

func (qb *QueryBuilder) writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		fmt.Fprintf(sb, "%q", v.Value)
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%v", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			qb.writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(": ")
			qb.writeValue(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}
