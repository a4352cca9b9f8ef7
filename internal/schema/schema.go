package schema

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindAny    Kind = "any"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

const (
	ProblemMissing  = "missing"
	ProblemMistyped = "mistyped"
)

// Field describes one required or optional path in a decoded JSON document.
// Path segments are separated by dots; Elem constrains array elements.
type Field struct {
	Path     string
	Kind     Kind
	Elem     Kind
	Optional bool
}

type Schema struct {
	Name   string
	Fields []Field
}

type Violation struct {
	Path     string `json:"path"`
	Problem  string `json:"problem"`
	Expected Kind   `json:"expected"`
	Got      string `json:"got,omitempty"`
}

func (v Violation) String() string {
	if v.Problem == ProblemMissing {
		return fmt.Sprintf("%s: missing (%s)", v.Path, v.Expected)
	}

	return fmt.Sprintf("%s: expected %s, got %s", v.Path, v.Expected, v.Got)
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Schema     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		parts = append(parts, violation.String())
	}

	return fmt.Sprintf("%s response failed validation: %s", e.Schema, strings.Join(parts, "; "))
}

// Paths возвращает пути всех нарушений.
func (e *ValidationError) Paths() []string {
	paths := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		paths = append(paths, violation.Path)
	}

	return paths
}

// Validate проверяет документ по схеме и собирает все нарушения, а не только первое.
func Validate(doc map[string]any, s Schema) error {
	violations := make([]Violation, 0)
	skipped := make([]string, 0)

	for _, field := range s.Fields {
		if underSkipped(field.Path, skipped) {
			continue
		}

		value, found, parentOK := lookup(doc, field.Path)
		if !parentOK {
			// the parent is already reported as missing or mistyped
			continue
		}

		if !found {
			if field.Optional {
				skipped = append(skipped, field.Path)
				continue
			}
			violations = append(violations, Violation{Path: field.Path, Problem: ProblemMissing, Expected: field.Kind})
			continue
		}

		if got := kindOf(value); !matches(field.Kind, got) {
			violations = append(violations, Violation{Path: field.Path, Problem: ProblemMistyped, Expected: field.Kind, Got: string(got)})
			continue
		}

		if field.Kind == KindArray && field.Elem != "" && field.Elem != KindAny {
			items, _ := value.([]any)
			for i, item := range items {
				if got := kindOf(item); !matches(field.Elem, got) {
					violations = append(violations, Violation{
						Path:     fmt.Sprintf("%s[%d]", field.Path, i),
						Problem:  ProblemMistyped,
						Expected: field.Elem,
						Got:      string(got),
					})
				}
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Schema: s.Name, Violations: violations}
	}

	return nil
}

// lookup walks the dotted path. parentOK is false when an intermediate value
// is absent or not an object.
func lookup(doc map[string]any, path string) (value any, found bool, parentOK bool) {
	segments := strings.Split(path, ".")
	current := doc

	for i, segment := range segments {
		next, ok := current[segment]
		if i == len(segments)-1 {
			if !ok || next == nil {
				return nil, false, true
			}
			return next, true, true
		}

		object, isObject := next.(map[string]any)
		if !ok || !isObject {
			return nil, false, false
		}
		current = object
	}

	return nil, false, false
}

func underSkipped(path string, skipped []string) bool {
	for _, prefix := range skipped {
		if strings.HasPrefix(path, prefix+".") {
			return true
		}
	}

	return false
}

func kindOf(value any) Kind {
	switch value.(type) {
	case string:
		return KindString
	case float64, float32, int, int64:
		return KindNumber
	case bool:
		return KindBool
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	case nil:
		return "null"
	default:
		return Kind(fmt.Sprintf("%T", value))
	}
}

func matches(expected, got Kind) bool {
	return expected == KindAny || expected == got
}
