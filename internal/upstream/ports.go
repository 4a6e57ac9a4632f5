// Package upstream defines the collaborator ports the engine drives during an
// evaluation pass, plus the Docker and registry implementations behind them.
package upstream

import (
	"context"
	"fmt"

	"updock/internal/domain"
)

// InventoryProvider lists the containers visible on one endpoint.
type InventoryProvider interface {
	Containers(ctx context.Context) ([]domain.ContainerSnapshot, error)
	Endpoint() domain.EndpointInfo
}

// VersionSource answers "what is the latest published tag for this repo".
// Implementations may fail per-repo; the engine treats that as no-update.
type VersionSource interface {
	Latest(ctx context.Context, imageRepo string) (domain.VersionRecord, error)
}

// UpgradeAction performs the actual container replacement. Implementations
// must be safe to call with a context deadline and must leave the container
// either upgraded or untouched.
type UpgradeAction interface {
	Upgrade(ctx context.Context, c domain.ContainerSnapshot, targetTag string) error
}

// Error marks a collaborator failure during evaluation of a single intent.
// It fails that intent's result but never aborts the surrounding pass.
type Error struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("upstream %s (%s): %v", e.Op, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
