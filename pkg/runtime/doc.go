/*
Package runtime provides Docker Engine integration for Hutch's worker lifecycle.

The runtime package wraps the Docker Engine API behind the Driver interface to
launch, inspect and reclaim worker containers. It translates a WorkerSpec into
the full container contract (bind mount, published port, resource envelope,
security profile, healthcheck, labels) and keeps every destructive operation
idempotent so reclamation can be retried safely.

# Architecture

	┌──────────────────── CONTAINER RUNTIME ────────────────────┐
	│                                                           │
	│  ┌──────────────────────────────────────────────┐        │
	│  │              Driver interface                 │        │
	│  │  - CreateAndStart / Stop / Remove / Alive     │        │
	│  │  - Logs(tail, since)                          │        │
	│  │  - ListSessionContainers (label sweep)        │        │
	│  │  - EnsureNetwork / EnsureImage                │        │
	│  └──────────────────┬───────────────────────────┘        │
	│                     │                                     │
	│        ┌────────────┴────────────┐                        │
	│        ▼                         ▼                        │
	│  ┌───────────────┐       ┌───────────────┐               │
	│  │ DockerDriver  │       │     Fake      │               │
	│  │ (engine API)  │       │  (in-memory,  │               │
	│  │               │       │   for tests)  │               │
	│  └───────┬───────┘       └───────────────┘               │
	│          │                                                │
	│  ┌───────▼──────────────────────────────────────┐        │
	│  │            Worker contract                    │        │
	│  │  - Image: configured worker reference         │        │
	│  │  - Mount: work dir -> /app (rw)               │        │
	│  │  - Port: 4173/tcp -> 127.0.0.1:hostPort       │        │
	│  │  - Memory 256MiB cap, no swap, 128MiB soft    │        │
	│  │  - CPU 25% of a core over a 100ms period      │        │
	│  │  - Pids 64, blkio 300, disk quota opt-in      │        │
	│  │  - CapDrop ALL + CHOWN/SETUID/SETGID          │        │
	│  │  - no-new-privileges, OOM killer on           │        │
	│  │  - curl healthcheck 10s/5s/3 retries/30s      │        │
	│  │  - autoremove on exit                         │        │
	│  └──────────────────────────────────────────────┘        │
	└───────────────────────────────────────────────────────────┘

# Core Components

DockerDriver:
  - Connects via the environment (DOCKER_HOST) with API version negotiation
  - Every method takes a context; callers own timeouts
  - Stop sends SIGTERM and the daemon escalates to SIGKILL after StopGrace
  - Stop, Remove and Alive treat a missing container as the desired state

Fake:
  - In-memory Driver with the same autoremove semantics
  - Failure injection (CreateErr) and crash simulation (Kill)
  - Backs the session manager and end-to-end tests

# Isolation

Workers run untrusted build output, so the contract leans restrictive:

  - The published port binds to 127.0.0.1 only; the gateway's proxy is
    the sole way in.
  - Workers attach to a dedicated bridge network, never the default one.
  - DO_NOT_TRACK and npm_config_offline keep dev tooling from calling
    out; DNS can additionally be pinned to an internal resolver.
  - The work directory bind mount is the only host surface, and it is
    scoped to one session.

# Usage

	driver, err := runtime.NewDockerDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := driver.EnsureNetwork(ctx, "hutch-previews"); err != nil {
		return err
	}

	containerID, err := driver.CreateAndStart(ctx, spec)
	if err != nil {
		return err
	}

	lines, err := driver.Logs(ctx, containerID, 100, time.Time{})

	err = driver.Stop(ctx, containerID) // idempotent

# Integration Points

This package integrates with:

  - pkg/session: launches workers during create, reclaims them on stop,
    reap and crash; sweeps orphans by label on startup
  - pkg/health: WorkerProbeConfig supplies the healthcheck numbers
  - pkg/types: WorkerSpec and WorkerResources describe the launch
  - cmd/hutch: connects the driver and ensures network and image at boot

# See Also

  - Docker Engine API: https://docs.docker.com/engine/api/
  - Docker Go SDK: https://pkg.go.dev/github.com/docker/docker/client
*/
package runtime
