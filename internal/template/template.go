// Package template implements the ${var.path} expression language used in
// workflow node parameters. Templates are resolved against a context map,
// typically the workflow's shared state.
package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode selects how unresolved variables are handled.
type Mode int

const (
	// Strict fails resolution on the first unresolved variable.
	Strict Mode = iota
	// Permissive leaves unresolved templates in place and records the
	// failure so the caller can surface it later.
	Permissive
)

// ResolutionError describes a single unresolved variable.
type ResolutionError struct {
	Variable string `json:"variable"`
	Message  string `json:"message"`
}

func (e *ResolutionError) Error() string { return e.Message }

// part is one piece of a parsed template string.
type part interface{ isPart() }

// literal is verbatim text between template variables.
type literal string

// varRef is a ${name.path} reference, Path holding the dotted segments.
type varRef struct {
	Path []string
	Raw  string // original text, preserved verbatim in permissive mode
}

func (literal) isPart() {}
func (varRef) isPart()  {}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parse splits text into literal and variable parts. Malformed templates
// (no closing brace, bad identifier) stay literal text. "$$" is a literal
// dollar sign.
func parse(text string) []part {
	var parts []part
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			parts = append(parts, literal(buf.String()))
			buf.Reset()
		}
	}

	i := 0
	for i < len(text) {
		c := text[i]
		if c != '$' {
			buf.WriteByte(c)
			i++
			continue
		}
		// "$$" escapes to a single literal dollar.
		if i+1 < len(text) && text[i+1] == '$' {
			buf.WriteByte('$')
			i += 2
			continue
		}
		// Bracketed form: ${name.seg...}
		if i+1 < len(text) && text[i+1] == '{' {
			end := strings.IndexByte(text[i+2:], '}')
			if end < 0 {
				// No closing brace: not a template.
				buf.WriteString(text[i:])
				i = len(text)
				continue
			}
			inner := text[i+2 : i+2+end]
			path, ok := parsePath(inner)
			if !ok {
				buf.WriteString(text[i : i+2+end+1])
				i += 2 + end + 1
				continue
			}
			flush()
			parts = append(parts, varRef{Path: path, Raw: text[i : i+2+end+1]})
			i += 2 + end + 1
			continue
		}
		// Bare form: $name.seg
		if i+1 < len(text) && isNameStart(text[i+1]) {
			j := i + 1
			for j < len(text) && isNameChar(text[j]) {
				j++
			}
			// Follow dotted segments as long as they look like identifiers
			// or integer indices.
			for j < len(text) && text[j] == '.' && j+1 < len(text) && (isNameChar(text[j+1])) {
				k := j + 1
				for k < len(text) && isNameChar(text[k]) {
					k++
				}
				j = k
			}
			raw := text[i:j]
			if path, ok := parsePath(raw[1:]); ok {
				flush()
				parts = append(parts, varRef{Path: path, Raw: raw})
				i = j
				continue
			}
		}
		buf.WriteByte('$')
		i++
	}
	flush()
	return parts
}

// parsePath validates and splits a dotted variable path. The first segment
// must be an identifier; later segments may be identifiers or integer
// indices.
func parsePath(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	segs := strings.Split(s, ".")
	for i, seg := range segs {
		if seg == "" {
			return nil, false
		}
		if i == 0 {
			if !isNameStart(seg[0]) {
				return nil, false
			}
			for j := 0; j < len(seg); j++ {
				if !isNameChar(seg[j]) {
					return nil, false
				}
			}
			continue
		}
		if isDigit(seg[0]) {
			for j := 0; j < len(seg); j++ {
				if !isDigit(seg[j]) {
					return nil, false
				}
			}
			continue
		}
		if !isNameStart(seg[0]) {
			return nil, false
		}
		for j := 0; j < len(seg); j++ {
			if !isNameChar(seg[j]) {
				return nil, false
			}
		}
	}
	return segs, true
}

// HasTemplates reports whether v is a string containing at least one
// syntactically valid template variable.
func HasTemplates(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if !strings.Contains(s, "$") {
		return false
	}
	for _, p := range parse(s) {
		if _, ok := p.(varRef); ok {
			return true
		}
	}
	return false
}

// ExtractVariables returns the full dotted paths of every template variable
// in text, deduplicated and sorted.
func ExtractVariables(text string) []string {
	seen := make(map[string]struct{})
	for _, p := range parse(text) {
		if v, ok := p.(varRef); ok {
			seen[strings.Join(v.Path, ".")] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResolveValue walks the dotted path through ctx and returns the value, or
// nil when any step is missing or the current value is not traversable.
func ResolveValue(path string, ctx map[string]any) any {
	v, _ := lookup(strings.Split(path, "."), ctx)
	return v
}

// VariableExists reports whether the full path resolves, distinguishing a
// present-but-nil value from a missing one.
func VariableExists(path string, ctx map[string]any) bool {
	_, ok := lookup(strings.Split(path, "."), ctx)
	return ok
}

// lookup resolves a path of segments against ctx. Intermediate values may
// be maps (keyed by segment) or slices (indexed by integer segments).
func lookup(path []string, ctx map[string]any) (any, bool) {
	var cur any = ctx
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify converts a resolved value to its string form for interpolation.
// nil renders empty, booleans and numbers in their canonical decimal form,
// and structured values as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Resolver resolves templates under a chosen Mode, accumulating
// ResolutionErrors in permissive mode.
type Resolver struct {
	Mode   Mode
	Errors []*ResolutionError
}

// NewResolver creates a Resolver for the given mode.
func NewResolver(mode Mode) *Resolver {
	return &Resolver{Mode: mode}
}

func (r *Resolver) missing(v varRef, ctx map[string]any) (*ResolutionError, error) {
	path := strings.Join(v.Path, ".")
	re := &ResolutionError{
		Variable: path,
		Message:  fmt.Sprintf("template variable %q not found; nearest keys: %s", path, nearestKeys(v.Path, ctx)),
	}
	if r.Mode == Strict {
		return re, re
	}
	r.Errors = append(r.Errors, re)
	return re, nil
}

// nearestKeys lists the keys available at the deepest mapping the path
// reached, to make missing-variable errors actionable.
func nearestKeys(path []string, ctx map[string]any) string {
	cur := ctx
	for _, seg := range path {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			break
		}
		cur = next
	}
	keys := make([]string, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	const max = 8
	if len(keys) > max {
		keys = keys[:max]
	}
	if len(keys) == 0 {
		return "(none)"
	}
	return strings.Join(keys, ", ")
}

// ResolveString replaces every template in text with the string form of its
// resolved value. Unresolved variables fail in strict mode and stay literal
// in permissive mode.
func (r *Resolver) ResolveString(text string, ctx map[string]any) (string, error) {
	var b strings.Builder
	for _, p := range parse(text) {
		switch v := p.(type) {
		case literal:
			b.WriteString(string(v))
		case varRef:
			val, ok := lookup(v.Path, ctx)
			if !ok {
				if _, err := r.missing(v, ctx); err != nil {
					return "", err
				}
				b.WriteString(v.Raw)
				continue
			}
			b.WriteString(Stringify(val))
		}
	}
	return b.String(), nil
}

// simpleVar returns the single variable when text is exactly one template
// with no surrounding content.
func simpleVar(text string) (varRef, bool) {
	parts := parse(text)
	if len(parts) != 1 {
		return varRef{}, false
	}
	v, ok := parts[0].(varRef)
	return v, ok
}

// ResolveTemplate resolves text against ctx. When text is exactly one
// template the native resolved value is returned with its type preserved;
// otherwise the result is a string per ResolveString.
func (r *Resolver) ResolveTemplate(text string, ctx map[string]any) (any, error) {
	if v, ok := simpleVar(text); ok {
		val, found := lookup(v.Path, ctx)
		if !found {
			if _, err := r.missing(v, ctx); err != nil {
				return nil, err
			}
			return v.Raw, nil
		}
		return val, nil
	}
	return r.ResolveString(text, ctx)
}

// ResolveAny resolves templates in v recursively. Strings are resolved with
// ResolveTemplate; maps and slices are traversed structurally; all other
// values pass through unchanged.
func (r *Resolver) ResolveAny(v any, ctx map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.ResolveTemplate(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			res, err := r.ResolveAny(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			res, err := r.ResolveAny(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return v, nil
	}
}
