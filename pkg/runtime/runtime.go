package runtime

import (
	"context"
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

const (
	// WorkerPort is the port the dev server listens on inside every
	// worker container.
	WorkerPort = 4173

	// AppDir is where the session work directory is bind-mounted
	// inside the worker.
	AppDir = "/app"

	// StopGrace is how long a worker gets to exit after SIGTERM
	// before the runtime kills it.
	StopGrace = 5 * time.Second
)

// Container labels used for external reconciliation. The orphan sweep
// matches on LabelService and reads LabelSession to find the owner.
const (
	LabelSession = "com.cuemby.hutch.session"
	LabelService = "com.cuemby.hutch.service"
	LabelCreated = "com.cuemby.hutch.created"

	// ServiceName is the value of LabelService on every worker.
	ServiceName = "hutch"
)

// Driver launches and reclaims worker containers. Implementations must
// be safe for concurrent use. Stop and Remove are idempotent: repeating
// them against a container that is already gone succeeds.
type Driver interface {
	// CreateAndStart launches the worker described by spec and returns
	// the runtime container id.
	CreateAndStart(ctx context.Context, spec types.WorkerSpec) (string, error)

	// Stop gracefully stops the container, killing it after StopGrace.
	Stop(ctx context.Context, containerID string) error

	// Remove deletes the container and its anonymous volumes.
	Remove(ctx context.Context, containerID string) error

	// Alive reports whether the container exists and is running.
	Alive(ctx context.Context, containerID string) (bool, error)

	// Logs returns up to tail lines of combined stdout/stderr output.
	// A zero tail means no limit; a zero since means from the start.
	Logs(ctx context.Context, containerID string, tail int, since time.Time) ([]string, error)

	// ListSessionContainers returns session id -> container id for
	// every container carrying this gateway's service label,
	// including stopped ones.
	ListSessionContainers(ctx context.Context) (map[string]string, error)

	// EnsureNetwork creates the named bridge network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error

	// EnsureImage pulls ref unless it is already present locally.
	EnsureImage(ctx context.Context, ref string) error

	// Close releases the runtime connection.
	Close() error
}
