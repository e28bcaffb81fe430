package helper

import "fmt"

// NewError wraps an error with the operation that produced it.
func NewError(context string, err error) error {
	return fmt.Errorf("%s: %w", context, err)
}
