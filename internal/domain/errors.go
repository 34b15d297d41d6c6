package domain

import "errors"

// ErrLinkNotFound reports that a link record does not exist, for example
// because it was deleted while a preservation run was in flight.
var ErrLinkNotFound = errors.New("link not found")
