package etag

import "fmt"

// GenerationError is returned when an entity tag cannot be generated for a record.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("Could not generate entity tag: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
