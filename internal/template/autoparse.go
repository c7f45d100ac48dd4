package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MalformedJSONError is raised when a parameter declared as object/array
// resolved to text that could not be parsed, or parsed to the wrong kind.
type MalformedJSONError struct {
	Param    string
	Expected string
	Value    string
	Reason   string
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("parameter %q expects %s but value is not valid: %s (value: %s)",
		e.Param, e.Expected, e.Reason, truncate(e.Value, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// normalizeKind maps the declared-type aliases to a canonical kind.
// Only object and array trigger auto-parsing.
func normalizeKind(declared string) string {
	switch strings.ToLower(declared) {
	case "object", "dict", "map":
		return "object"
	case "array", "list":
		return "array"
	default:
		return ""
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ResolveParam resolves a single parameter value with knowledge of its
// declared type. For object/array parameters whose value is exactly one
// template, a resolved string beginning with '{' or '[' is parsed as JSON;
// a parse failure or a kind mismatch is an error rather than a silent
// fall-through. Everything else behaves like ResolveAny.
func (r *Resolver) ResolveParam(name string, value any, declaredType string, ctx map[string]any) (any, error) {
	kind := normalizeKind(declaredType)
	text, isString := value.(string)
	if kind == "" || !isString {
		return r.ResolveAny(value, ctx)
	}
	if _, simple := simpleVar(text); !simple {
		return r.ResolveAny(value, ctx)
	}

	resolved, err := r.ResolveTemplate(text, ctx)
	if err != nil {
		return nil, err
	}

	s, ok := resolved.(string)
	if !ok {
		// Native structured value came through the template; check its kind.
		if got := kindOf(resolved); got != kind {
			return nil, &MalformedJSONError{Param: name, Expected: kind, Value: Stringify(resolved),
				Reason: fmt.Sprintf("expected %s, got %s", kind, got)}
		}
		return resolved, nil
	}

	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return resolved, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, &MalformedJSONError{Param: name, Expected: kind, Value: s, Reason: err.Error()}
	}
	if got := kindOf(parsed); got != kind {
		return nil, &MalformedJSONError{Param: name, Expected: kind, Value: s,
			Reason: fmt.Sprintf("expected %s, got %s", kind, got)}
	}
	return parsed, nil
}
