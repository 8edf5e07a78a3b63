package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrNoActiveConfig     = errors.New("no active similarity config")
	ErrDuplicatePair      = errors.New("duplicate relationship pair")
	ErrMalformedCandidate = errors.New("malformed entity candidate")
	ErrRunFinalized       = errors.New("extraction run already finalized")
)
