/*
Package session owns the lifecycle of preview sessions: the live-session
map, the host port pool, the per-session work directories, and the
background loops that reclaim what clients abandon.

# Architecture

	┌─────────────────────────────────────────────────────────┐
	│                        Manager                          │
	│  ┌───────────┐  ┌───────────┐  ┌─────────────────────┐  │
	│  │ Allocator │  │ Workspace │  │ sessions map        │  │
	│  │ (ports)   │  │ (workdirs)│  │ token -> *Session   │  │
	│  └───────────┘  └───────────┘  └─────────────────────┘  │
	└─────────┬──────────────┬───────────────┬────────────────┘
	          │              │               │
	    runtime.Driver   events.Broker   Reaper / Monitor
	    (containers)     (status fan-out) (background loops)

# Session Lifecycle

A session moves through a closed set of statuses:

	pending -> starting -> running -> stopping -> stopped

Create reserves capacity, a token, and a port under one lock, then
works outside it: materialize the file map (plus the built-in scaffold
for anything the client did not supply), launch the worker container,
and poll the allocated port until the dev server answers. Any failure
after the reservation jumps the session to error, tears down whatever
was built, and removes it from the live map. Stopped sessions do not
linger: a token that reaches stopped is invalidated, not recycled.

# Core Components

  - Manager: Create, Get, List, PatchFile, Logs, Ping, Stop, and the
    Stats snapshot the metrics collector polls.
  - Allocator: lowest-free port allocation over a fixed range, with
    idempotent release.
  - Workspace: per-session work directories, path normalization, and
    the traversal guard on every write.
  - Reaper: stops running sessions idle past the configured timeout.
  - Monitor: stops sessions whose worker stayed dead across consecutive
    liveness checks, dialing the worker port when the runtime cannot be
    inspected, and sweeps containers orphaned by a previous gateway
    process.

# Usage

	manager, err := session.NewManager(cfg.Session, cfg.Worker, cfg.Server.PublicURL, driver, broker)
	if err != nil {
		return err
	}

	s, err := manager.Create(ctx, "demo", owner, map[string]string{
		"src/app.ts": "export const x = 1",
	})
	if err != nil {
		return err
	}
	defer manager.Stop(context.Background(), s.ID)

	reaper := session.NewReaper(manager)
	reaper.Start()
	defer reaper.Stop()

# Concurrency

The session map and port pool share one mutex, held only for map
mutations, never across container or file I/O. Each session carries a
write mutex so file patches apply in the order received; teardown takes
the same mutex around work-directory removal, so a patch can never
recreate the directory of a stopped session. Stop is a status claim:
the first caller flips the session to stopping and runs teardown; later
callers see the claim and return immediately.

# Integration Points

  - pkg/runtime: container create/stop/logs/inspect
  - pkg/events: status transitions and log batches for subscribers
  - pkg/health: the readiness probe polled during create, and the
    monitor's failure tracking and port-dial fallback
  - pkg/metrics: create/stop counters and the occupancy snapshot
*/
package session
