package types

import "fmt"

// ValidationError represents a structural validation failure of a
// transaction or block.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
