// Package ml holds the pieces shared by both trainers: the training error
// taxonomy and the named-feature access over daily branch metrics.
package ml

import (
	"fmt"
)

// InsufficientDataError indicates the training window holds fewer usable
// rows than the configured floor.
type InsufficientDataError struct {
	Required int
	Got      int
}

// Error implements the error interface
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: need %d rows, got %d", e.Required, e.Got)
}

// ValidationError represents bad training input or configuration
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for '%s': %s", e.Field, e.Reason)
}

// ArtefactError indicates a corrupted or unreadable model artefact
type ArtefactError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ArtefactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("artefact error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("artefact error: %s", e.Reason)
}

// Unwrap returns the underlying error
func (e *ArtefactError) Unwrap() error {
	return e.Err
}
