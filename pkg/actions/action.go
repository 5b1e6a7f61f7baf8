package actions

import (
	"context"
)

// Action defines the interface for any containment step the agent can take
// once ransomware activity is suspected. Each action must have a name and an
// execution method.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute performs the action. It is passed a context for cancellation
	// and a map of data with whatever the action needs (e.g. the directory
	// to freeze, the remote address to block).
	Execute(ctx context.Context, data map[string]interface{}) error
}
