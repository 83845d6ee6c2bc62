package crawler

import "errors"

var (
	// ErrFatalSession means the home page could not be reached; the run cannot continue
	ErrFatalSession = errors.New("fatal session failure")

	// ErrElementNotFound means a required element did not appear within its bounded wait
	ErrElementNotFound = errors.New("element not found")
)
