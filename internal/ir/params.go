package ir

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ApplyParams validates execution parameters against the workflow's
// declared inputs and returns a new map with defaults filled in. A default
// of null still satisfies a required input: declaring any default makes
// the input optional. Values are type-checked against the declared type
// via a generated JSON schema; type "any" accepts everything.
func ApplyParams(inputs map[string]InputSpec, params map[string]any) (map[string]any, ValidationErrors) {
	out := make(map[string]any, len(params)+len(inputs))
	for k, v := range params {
		out[k] = v
	}

	var errs ValidationErrors

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := inputs[name]
		if _, ok := out[name]; ok {
			continue
		}
		if spec.HasDefault {
			out[name] = spec.Default
			continue
		}
		if spec.IsRequired() {
			errs = append(errs, ValidationError{
				Path:    "inputs." + name,
				Message: fmt.Sprintf("required input %q was not provided", name),
			})
		}
	}

	schema := inputsSchema(inputs)
	if schema != nil {
		result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(out))
		if err != nil {
			errs = append(errs, ValidationError{Path: "inputs", Message: fmt.Sprintf("parameter validation: %v", err)})
		} else {
			for _, re := range result.Errors() {
				errs = append(errs, ValidationError{Path: "inputs." + re.Field(), Message: re.Description()})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// inputsSchema builds a JSON schema over the declared inputs for
// type-checking supplied values. Inputs typed "any" (or untyped) get no
// constraint; nulls are always allowed so null defaults pass through.
func inputsSchema(inputs map[string]InputSpec) map[string]any {
	props := make(map[string]any)
	for name, spec := range inputs {
		if spec.Type == "" || spec.Type == "any" {
			continue
		}
		props[name] = map[string]any{"type": []any{spec.Type, "null"}}
	}
	if len(props) == 0 {
		return nil
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
