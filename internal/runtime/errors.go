package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spinje/pflow/internal/template"
)

// ErrorCategory classifies an execution error so callers can pick the
// right remedy.
type ErrorCategory string

const (
	CategoryValidation      ErrorCategory = "validation"
	CategoryTemplate        ErrorCategory = "template"
	CategoryRuntime         ErrorCategory = "runtime"
	CategoryMissingResource ErrorCategory = "missing_resource"
	CategoryPermission      ErrorCategory = "permission"
	CategoryNotFound        ErrorCategory = "not_found"
	CategoryTimeout         ErrorCategory = "timeout"
)

// ErrorRecord is the structured error shape reported to callers.
type ErrorRecord struct {
	Category         ErrorCategory `json:"category"`
	Message          string        `json:"message"`
	NodeID           string        `json:"node_id,omitempty"`
	TechnicalDetails string        `json:"technical_details,omitempty"`
	UserAction       string        `json:"user_action,omitempty"`
}

func (e *ErrorRecord) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %q: %s", e.Category, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

// CompositionError marks sub-workflow configuration, depth, and cycle
// failures. Errors from loading a child workflow file are returned as is.
type CompositionError struct {
	Message string
}

func (e *CompositionError) Error() string { return e.Message }

// classifyError converts an arbitrary node error into an ErrorRecord,
// picking the category from the error's type.
func classifyError(err error, nodeID string) *ErrorRecord {
	rec := &ErrorRecord{
		Category:         CategoryRuntime,
		Message:          err.Error(),
		NodeID:           nodeID,
		TechnicalDetails: fmt.Sprintf("%+v", err),
		UserAction:       "Inspect the node's inputs and retry, or enable repair.",
	}

	var existing *ErrorRecord
	var resErr *template.ResolutionError
	var jsonErr *template.MalformedJSONError
	var compErr *CompositionError

	switch {
	case errors.As(err, &existing):
		rec = existing
		if rec.NodeID == "" {
			rec.NodeID = nodeID
		}
	case errors.As(err, &resErr), errors.As(err, &jsonErr):
		rec.Category = CategoryTemplate
		rec.UserAction = "Fix the template reference or declare the missing input."
	case errors.As(err, &compErr):
		rec.Category = CategoryValidation
		rec.UserAction = "Fix the sub-workflow reference or reduce nesting."
	case errors.Is(err, fs.ErrNotExist):
		rec.Category = CategoryNotFound
		rec.UserAction = "Check that the referenced file or workflow exists."
	case errors.Is(err, fs.ErrPermission):
		rec.Category = CategoryPermission
		rec.UserAction = "Check filesystem permissions."
	case errors.Is(err, context.DeadlineExceeded):
		rec.Category = CategoryTimeout
		rec.UserAction = "Increase the timeout or simplify the node's work."
	}
	return rec
}
