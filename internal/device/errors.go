package device

import "errors"

var (
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidAddress covers stored rows as well as caller input.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidSnapshot means a snapshot row no longer decodes to a value,
	// usually after a catalog change.
	ErrInvalidSnapshot = errors.New("device: invalid snapshot")
)
