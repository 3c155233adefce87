package migration

import (
	"fmt"

	"github.com/google/uuid"
)

// MigrationError is scoped to one container. Siblings of the failed container
// are unaffected.
type MigrationError struct {
	ContainerID uuid.UUID
	// Field is empty when the failure is not tied to a field
	Field string
	Cause error
}

func (e *MigrationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("failed to migrate container %s field %q: %v", e.ContainerID, e.Field, e.Cause)
	}
	return fmt.Sprintf("failed to migrate container %s: %v", e.ContainerID, e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}
