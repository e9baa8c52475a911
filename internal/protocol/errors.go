package protocol

import "errors"

var (
	ErrUnknownPayload    = errors.New("protocol: unknown payload type")
	ErrUnknownControl    = errors.New("protocol: unknown control type")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrMissingField      = errors.New("protocol: missing required field")
	ErrTooManyFields     = errors.New("protocol: too many control fields")
)
