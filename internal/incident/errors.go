package incident

import "errors"

var (
	ErrBlankID          = errors.New("incident id must be non-blank")
	ErrInvalidID        = errors.New("invalid incident id")
	ErrInvalidSeverity  = errors.New("invalid severity")
	ErrMissingCreatedAt = errors.New("incident createdAt must be set")
	ErrBlankTrigger     = errors.New("incident trigger must be non-blank")
	ErrMalformedReport  = errors.New("malformed incident report")
)
