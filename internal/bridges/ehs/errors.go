package ehs

import "errors"

// Domain errors for the EHS bridge package.
var (
	// ErrInvalidConfig is returned when the engine configuration cannot be built.
	ErrInvalidConfig = errors.New("ehs: invalid configuration")

	// ErrUnknownCommand is returned for command names the bridge does not handle.
	ErrUnknownCommand = errors.New("ehs: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing or malformed.
	ErrInvalidParameters = errors.New("ehs: invalid parameters")

	// ErrNotSupported is returned when a control needs an attribute the catalog lacks.
	ErrNotSupported = errors.New("ehs: control not supported")
)
