// Package learner answers whether a learner id is known to the service.
// The scoring pipeline consults a [Store] before spending an upstream
// speech-to-text call on an unknown learner.
package learner

import "context"

// Store looks up learners by id. Implementations must be safe for
// concurrent use.
type Store interface {
	// Exists reports whether a learner with the given id is registered.
	// A lookup fault is returned as an error, never as (false, nil).
	Exists(ctx context.Context, id string) (bool, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
