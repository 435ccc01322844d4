package spawner

import (
	"context"
	"fmt"

	"workbench/pkg/store/mysql/model"
)

// Status is the provider-reported lifecycle state of a server. It is never
// persisted durably; every value originates from a live provider query.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusPending Status = "Pending"
	StatusRunning Status = "Running"
	StatusError   Status = "Error"
)

// Spawner translates abstract server lifecycle verbs into calls against a
// specific compute provider.
//
// Start is idempotent at the application layer: a server whose config already
// carries provider handles reuses them instead of re-provisioning. Stop keeps
// the provider-side definition around for a quick restart; Terminate releases
// it and is irreversible. Status degrades to StatusError on provider failure
// instead of returning an error, so polling loops treat "unknown" uniformly.
type Spawner interface {
	Start(ctx context.Context, server *model.Server) error
	Stop(ctx context.Context, server *model.Server) error
	Terminate(ctx context.Context, server *model.Server) error
	Status(ctx context.Context, server *model.Server) Status
}

// ConfigStore is the slice of the server repository adapters need to persist
// provider-assigned handles.
type ConfigStore interface {
	Get(ctx context.Context, id string) (*model.Server, error)
	SaveConfig(ctx context.Context, server *model.Server) error
	CompareAndSwapTaskDefinition(ctx context.Context, serverID, arn string) (bool, error)
}

// Error wraps any provider SDK failure so callers never depend on
// provider-specific error types.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("spawner: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapErr normalizes a provider error, passing through nil and already
// wrapped errors.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return &Error{Op: op, Err: err}
}
