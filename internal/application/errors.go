package application

import "errors"

var (
	// ErrNotFound is returned when the requested collaborator, record or
	// workspace does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is returned when the caller's version is stale.
	ErrConflict = errors.New("application: version conflict")
	// ErrAlreadyExists is returned when creating an id that is taken.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrWorkspaceClosed is returned by a workspace after Close.
	ErrWorkspaceClosed = errors.New("application: workspace closed")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) merge(other *ValidationError) {
	if other == nil {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}
