package planner

import (
	"strconv"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// minFragmentFields is the triviality threshold: a selection subtree must
// select at least this many fields (or contain an inline fragment), and
// recur at least once, before factoring it into a fragment is worth the
// indirection.
const minFragmentFields = 2

// fragmentFactorizer hoists selection subtrees that are both repeated and
// non-trivial into __QueryPlanFragment_N__ definitions. One factorizer is
// shared across every Fetch of the plan a single Serialize call walks, so
// its counter is a monotonic,
// globally increasing sequence over the whole plan (per spec), while
// repetition ("appears at >=2 sites") is judged per Fetch: call Reset
// between Fetches to clear the per-Fetch signature tally without resetting
// the counter or the fragments already emitted for earlier Fetches.
type fragmentFactorizer struct {
	counter  int
	seen     map[string]string // signature -> fragment name, within the current Fetch
	sigCount map[string]int    // signature -> occurrence count, within the current Fetch
	typeOf   func(parentType, fieldName string) string
}

func newFragmentFactorizer(typeOf func(parentType, fieldName string) string) *fragmentFactorizer {
	f := &fragmentFactorizer{typeOf: typeOf}
	f.Reset()
	return f
}

// Reset clears per-Fetch bookkeeping ahead of factorizing a new Fetch's
// selection set. The counter is untouched: names stay unique plan-wide.
func (f *fragmentFactorizer) Reset() {
	f.seen = make(map[string]string)
	f.sigCount = make(map[string]int)
}

// Factorize walks selections depth-first, counting subtree signatures, then
// rewrites any subtree that is non-trivial and repeated within this Fetch
// into a spread of a newly minted fragment. Returns the rewritten selections
// and the fragments minted for this Fetch, in emission order.
func (f *fragmentFactorizer) Factorize(selections []ast.Selection, parentType string) ([]ast.Selection, []*ast.FragmentDefinition) {
	f.countSignatures(selections)
	var fragments []*ast.FragmentDefinition
	rewritten := f.rewrite(selections, parentType, &fragments)
	return rewritten, fragments
}

func (f *fragmentFactorizer) countSignatures(selections []ast.Selection) {
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok || len(field.SelectionSet) == 0 {
			continue
		}
		if isFactorable(field.SelectionSet) {
			f.sigCount[signature(field.SelectionSet)]++
		}
		f.countSignatures(field.SelectionSet)
	}
}

func (f *fragmentFactorizer) rewrite(selections []ast.Selection, parentType string, fragments *[]*ast.FragmentDefinition) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok || len(field.SelectionSet) == 0 {
			result = append(result, sel)
			continue
		}

		childType := f.typeOf(parentType, field.Name.String())
		rewritten := f.rewrite(field.SelectionSet, childType, fragments)

		if isFactorable(field.SelectionSet) && f.sigCount[signature(field.SelectionSet)] > 1 {
			sig := signature(field.SelectionSet)
			name, ok := f.seen[sig]
			if !ok {
				f.counter++
				name = fragmentName(f.counter)
				f.seen[sig] = name
				*fragments = append(*fragments, &ast.FragmentDefinition{
					Name:          &ast.Name{Token: token.Token{Type: token.IDENT, Literal: name}, Value: name},
					TypeCondition: namedType(childType),
					SelectionSet:  rewritten,
				})
			}
			result = append(result, &ast.Field{
				Alias:      field.Alias,
				Name:       field.Name,
				Arguments:  field.Arguments,
				Directives: field.Directives,
				SelectionSet: []ast.Selection{
					&ast.FragmentSpread{Name: &ast.Name{Token: token.Token{Type: token.IDENT, Literal: name}, Value: name}},
				},
			})
			continue
		}

		result = append(result, &ast.Field{
			Alias:        field.Alias,
			Name:         field.Name,
			Arguments:    field.Arguments,
			Directives:   field.Directives,
			SelectionSet: rewritten,
		})
	}

	return result
}

// isFactorable reports whether a selection subtree clears the triviality
// threshold: more than one leaf, or it already contains an inline fragment
// (factored for consistency once a selection set has type-conditional shape).
func isFactorable(selections []ast.Selection) bool {
	if len(selections) >= minFragmentFields {
		return true
	}
	for _, sel := range selections {
		if _, ok := sel.(*ast.InlineFragment); ok {
			return true
		}
	}
	return false
}

func fragmentName(n int) string {
	return "__QueryPlanFragment_" + strconv.Itoa(n) + "__"
}

// signature builds a structural fingerprint of a selection set so identical
// subtrees compare equal regardless of where in the tree they appear.
func signature(selections []ast.Selection) string {
	out := "{"
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			out += s.Name.String()
			if len(s.SelectionSet) > 0 {
				out += signature(s.SelectionSet)
			}
			out += ","
		case *ast.InlineFragment:
			out += "..." + s.TypeCondition.Name.String() + signature(s.SelectionSet) + ","
		}
	}
	return out + "}"
}
