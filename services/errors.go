// Package services implements the domain operations over the stores, the
// event publisher and the external clients. Every state change goes through
// a storage-level guarded mutation; a nil post-image surfaces here as
// ErrStateConflict carrying the aggregate's current status.
package services

import (
	"github.com/pkg/errors"
)

// ErrUnauthorized marks a signer acting on someone else's aggregate.
var ErrUnauthorized = errors.New("signer not authorized for this resource")

// ErrStateConflict marks a guarded mutation whose predicate did not match,
// usually because another worker moved the aggregate first.
var ErrStateConflict = errors.New("operation not allowed in current state")

func stateConflict(current interface{}) error {
	return errors.Wrapf(ErrStateConflict, "current status %v", current)
}
