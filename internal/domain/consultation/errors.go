package consultation

import "errors"

// Error kinds callers branch on with errors.Is. Everything else coming out
// of the repository is a store failure.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
)
