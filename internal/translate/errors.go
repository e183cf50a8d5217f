package translate

import "errors"

var (
	// ErrUnknownAction is returned for a command JSON object whose action
	// field is not a recognized action.
	ErrUnknownAction = errors.New("translate: unknown command action")
	// ErrInvalidParameter is returned when a command's value falls outside
	// its action's declared constraint range.
	ErrInvalidParameter = errors.New("translate: command value out of range")
)
