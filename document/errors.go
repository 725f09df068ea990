package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that the document file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrPageOutOfRange reports a page index outside [0, page count).
	ErrPageOutOfRange = errors.New("page number out of range")
)

// ProcessingError wraps a failure raised by the underlying PDF libraries
// while opening, rendering, editing or saving a document.
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func processing(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessingError{Op: op, Err: err}
}

func pageRange(page, count int) error {
	return fmt.Errorf("page %d of %d: %w", page, count, ErrPageOutOfRange)
}
