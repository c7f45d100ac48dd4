package ir

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema is the structural JSON schema for the IR wire format.
// Cross-referential rules (edge endpoints, template references, unused
// inputs) are enforced in validate.go; this schema only covers shape.
const workflowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "ir_version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_-]*$"},
          "type": {"type": "string", "minLength": 1},
          "purpose": {"type": "string"},
          "params": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "when": {"type": "string"}
        }
      }
    },
    "start_node": {"type": "string"},
    "inputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "type": {"enum": ["string", "integer", "number", "boolean", "array", "object", "any"]},
          "required": {"type": "boolean"},
          "description": {"type": "string"},
          "stdin": {"type": "boolean"}
        }
      }
    },
    "outputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "description": {"type": "string"},
          "type": {"type": "string"}
        }
      }
    },
    "enable_namespacing": {"type": "boolean"}
  }
}`

// validateStructure checks the workflow's map form against the structural
// schema and returns one ValidationError per schema violation.
func validateStructure(wf *Workflow) []ValidationError {
	m, err := wf.ToMap()
	if err != nil {
		return []ValidationError{{Path: "workflow", Message: err.Error()}}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(workflowSchema),
		gojsonschema.NewGoLoader(m),
	)
	if err != nil {
		return []ValidationError{{Path: "workflow", Message: fmt.Sprintf("schema validation: %v", err)}}
	}
	var errs []ValidationError
	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{Path: re.Field(), Message: re.Description()})
	}
	return errs
}
