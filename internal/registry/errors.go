package registry

import "errors"

// ErrRegistryFull is returned by Ensure when the registry is at capacity
// and the requested device id is not already known.
var ErrRegistryFull = errors.New("registry: capacity reached, refusing new device")
