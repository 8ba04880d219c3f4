package state

import (
	"fmt"
	"strings"
)

// Kind enumerates the value types a schema rule can require.
type Kind string

const (
	KindNumber  Kind = "number"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindAny     Kind = "any"
)

// Rule constrains the values writable at a path. Numeric rules clamp to
// [Min, Max] unless Strict, in which case an out-of-range write is a
// violation instead of a clamp.
type Rule struct {
	Type   Kind     `json:"type"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Enum   []string `json:"enum,omitempty"`
	Strict bool     `json:"strict,omitempty"`
}

// Schema maps wildcarded dotted path patterns ("players.*.health") to rules.
// Patterns are dotted only at definition time; resolved paths are always
// segment slices.
type Schema map[string]Rule

// Violation reports a strict schema breach. It is an error value so callers
// can distinguish it from structural failures.
type Violation struct {
	Path   []string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", strings.Join(v.Path, "."), v.Reason)
}

type compiledRule struct {
	segments []string
	rule     Rule
}

// Table is a compiled schema ready for per-write path matching.
type Table struct {
	rules []compiledRule
}

// CompileSchema splits every pattern into segments once so write-time matching
// does no string allocation.
func CompileSchema(schema Schema) *Table {
	if len(schema) == 0 {
		return &Table{}
	}
	table := &Table{rules: make([]compiledRule, 0, len(schema))}
	for pattern, rule := range schema {
		table.rules = append(table.rules, compiledRule{
			segments: strings.Split(pattern, "."),
			rule:     rule,
		})
	}
	return table
}

// Match returns the first rule whose pattern covers the path. A "*" segment
// matches any single path segment.
func (t *Table) Match(path []string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	for _, candidate := range t.rules {
		if matchSegments(candidate.segments, path) {
			return candidate.rule, true
		}
	}
	return Rule{}, false
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, segment := range pattern {
		if segment == "*" {
			continue
		}
		if segment != path[i] {
			return false
		}
	}
	return true
}

// ValidateValue normalizes a value under a rule. It returns the possibly
// clamped value, or a *Violation when the rule is strict and breached.
func ValidateValue(rule Rule, path []string, value any) (any, error) {
	value = normalizeScalar(value)
	switch rule.Type {
	case KindNumber:
		number, ok := value.(float64)
		if !ok {
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("expected number, got %T", value)}
		}
		if rule.Min != nil && number < *rule.Min {
			if rule.Strict {
				return nil, &Violation{Path: path, Reason: fmt.Sprintf("%v below minimum %v", number, *rule.Min)}
			}
			number = *rule.Min
		}
		if rule.Max != nil && number > *rule.Max {
			if rule.Strict {
				return nil, &Violation{Path: path, Reason: fmt.Sprintf("%v above maximum %v", number, *rule.Max)}
			}
			number = *rule.Max
		}
		return number, nil
	case KindString:
		text, ok := value.(string)
		if !ok {
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
		if len(rule.Enum) > 0 {
			for _, allowed := range rule.Enum {
				if text == allowed {
					return text, nil
				}
			}
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("%q not in enum", text)}
		}
		return text, nil
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("expected boolean, got %T", value)}
		}
		return value, nil
	case KindObject:
		if _, ok := value.(map[string]any); !ok {
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("expected object, got %T", value)}
		}
		return value, nil
	case KindArray:
		if _, ok := value.([]any); !ok {
			return nil, &Violation{Path: path, Reason: fmt.Sprintf("expected array, got %T", value)}
		}
		return value, nil
	default:
		return value, nil
	}
}
