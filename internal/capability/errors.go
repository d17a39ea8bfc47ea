package capability

import "errors"

// Registry errors.
var (
	// ErrDuplicateCapability is returned when registering a name twice.
	ErrDuplicateCapability = errors.New("capability already registered")

	// ErrInvalidContract is returned when a registration's contract is
	// malformed.
	ErrInvalidContract = errors.New("invalid capability contract")

	// ErrUnknownCapability is returned when resolving an unregistered name.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrMissingRequiredArg is returned when a required argument is absent.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")

	// ErrUndeclaredArg is returned when an argument is not in the contract.
	ErrUndeclaredArg = errors.New("undeclared argument")
)
