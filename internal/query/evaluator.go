package query

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
)

// Evaluator holds a parsed query and matches it against entities.
// It caches compiled regular expressions, so it is not safe for concurrent use.
type Evaluator struct {
	expr       Expression
	regexCache map[string]*regexp.Regexp
}

func NewEvaluator(expr Expression) *Evaluator {
	return &Evaluator{
		expr:       expr,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Compile parses q and returns an evaluator for it.
func Compile(q string) (*Evaluator, error) {
	expr, err := Parse(q)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(expr), nil
}

// attributeAccessor extracts the values of an attribute from an entity.
// ok is false if the attribute does not apply to the entity's kind.
type attributeAccessor func(e catalog.Entity) (values []string, ok bool)

func assetAccessor(f func(a *catalog.Asset) []string) attributeAccessor {
	return func(e catalog.Entity) ([]string, bool) {
		if a, ok := e.(*catalog.Asset); ok {
			return f(a), true
		}
		return nil, false
	}
}

func processAccessor(f func(p *catalog.Process) []string) attributeAccessor {
	return func(e catalog.Entity) ([]string, bool) {
		if p, ok := e.(*catalog.Process); ok {
			return f(p), true
		}
		return nil, false
	}
}

func connectionAccessor(f func(c *catalog.ClientConnection) []string) attributeAccessor {
	return func(e catalog.Entity) ([]string, bool) {
		if c, ok := e.(*catalog.ClientConnection); ok {
			return f(c), true
		}
		return nil, false
	}
}

var attributeAccessors = map[string]attributeAccessor{
	"id":   func(e catalog.Entity) ([]string, bool) { return []string{e.GetID()}, true },
	"kind": func(e catalog.Entity) ([]string, bool) { return []string{string(e.GetKind())}, true },
	"type": func(e catalog.Entity) ([]string, bool) {
		switch v := e.(type) {
		case *catalog.Asset:
			return []string{v.Type}, true
		case *catalog.ClientConnection:
			return []string{v.ServiceType}, true
		}
		return nil, false
	},
	"description": func(e catalog.Entity) ([]string, bool) {
		switch v := e.(type) {
		case *catalog.Asset:
			return []string{v.Description}, true
		case *catalog.Process:
			var ds []string
			for _, t := range v.Transformations {
				ds = append(ds, t.Description)
			}
			return ds, true
		}
		return nil, false
	},
	"location": assetAccessor(func(a *catalog.Asset) []string { return []string{a.Location} }),
	"lineage":  assetAccessor(func(a *catalog.Asset) []string { return a.Lineage }),
	// Matches field names and field types.
	"schema": assetAccessor(func(a *catalog.Asset) []string {
		var vs []string
		for _, k := range slices.Sorted(maps.Keys(a.Schema)) {
			vs = append(vs, k, a.Schema[k])
		}
		return vs
	}),
	"stage": processAccessor(func(p *catalog.Process) []string { return []string{p.Lifecycle.Stage} }),
	"transformation": processAccessor(func(p *catalog.Process) []string {
		return p.TransformationIDs()
	}),
	"source": processAccessor(func(p *catalog.Process) []string {
		var vs []string
		for _, s := range p.Sources {
			vs = append(vs, s.ID, s.Connection.Identifier)
		}
		return vs
	}),
	"destination": processAccessor(func(p *catalog.Process) []string {
		var vs []string
		for _, d := range p.Destinations {
			vs = append(vs, d.ID, d.Connection.Identifier)
		}
		return vs
	}),
	"host": connectionAccessor(func(c *catalog.ClientConnection) []string { return []string{c.Hostname} }),
	"tool": connectionAccessor(func(c *catalog.ClientConnection) []string { return c.Tools }),
}

// Attributes returns the names of all attributes that can be used in queries.
func Attributes() []string {
	return slices.Sorted(maps.Keys(attributeAccessors))
}

// Matches returns true if the entity matches the expression held by the Evaluator.
func (ev *Evaluator) Matches(e catalog.Entity) (bool, error) {
	return ev.evaluateNode(e, ev.expr)
}

func (ev *Evaluator) evaluateNode(e catalog.Entity, expr Expression) (bool, error) {
	switch v := expr.(type) {
	case *Term:
		// A plain term matches against the entity ID.
		return strings.Contains(strings.ToLower(e.GetID()), strings.ToLower(v.Value)), nil

	case *AttributeTerm:
		accessor, ok := attributeAccessors[strings.ToLower(v.Attribute)]
		if !ok {
			return false, fmt.Errorf("unknown attribute for filtering: %s", v.Attribute)
		}
		values, ok := accessor(e)
		if !ok {
			return false, nil
		}
		for _, value := range values {
			matches, err := ev.matchesOperator(value, v.Operator, v.Value)
			if err != nil {
				return false, err
			}
			if matches {
				return true, nil
			}
		}
		return false, nil

	case *NotExpression:
		matches, err := ev.evaluateNode(e, v.Expression)
		return !matches, err

	case *BinaryExpression:
		left, err := ev.evaluateNode(e, v.Left)
		if err != nil {
			return false, err
		}
		switch v.Operator {
		case "AND":
			if !left {
				return false, nil
			}
			return ev.evaluateNode(e, v.Right)
		case "OR":
			if left {
				return true, nil
			}
			return ev.evaluateNode(e, v.Right)
		}
	}
	return false, fmt.Errorf("unsupported expression %v", expr)
}

// matchesOperator compares case-insensitively.
func (ev *Evaluator) matchesOperator(value, operator, queryValue string) (bool, error) {
	switch operator {
	case ":":
		return strings.Contains(strings.ToLower(value), strings.ToLower(queryValue)), nil
	case "=":
		return strings.EqualFold(value, queryValue), nil
	case "~":
		re, found := ev.regexCache[queryValue]
		if !found {
			var err error
			re, err = regexp.Compile("(?i)" + queryValue)
			if err != nil {
				return false, fmt.Errorf("invalid regular expression %q: %w", queryValue, err)
			}
			ev.regexCache[queryValue] = re
		}
		return re.MatchString(value), nil
	}
	return false, fmt.Errorf("unknown operator %q", operator)
}
