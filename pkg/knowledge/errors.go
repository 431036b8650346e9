package knowledge

import "errors"

// ErrInvalid marks a malformed node, edge, or entity rejected at the storage
// boundary. Operations failing with ErrInvalid have no effect.
var ErrInvalid = errors.New("invalid knowledge record")
