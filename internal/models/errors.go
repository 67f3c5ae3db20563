package models

import "errors"

var (
	// ErrNotFound is returned when an account or card does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMalformedData marks a stored record that cannot be interpreted.
	ErrMalformedData = errors.New("malformed data")

	// ErrValidation is returned for rejected caller input.
	ErrValidation = errors.New("validation failed")
)
