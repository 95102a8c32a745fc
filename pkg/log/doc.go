/*
Package log provides structured logging for Hutch using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps; request handling,
session lifecycle, and container operations attach their correlation ids
through the helpers here.

# Architecture

The gateway's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                    │           │
	│  │  - WithComponent("session-manager")        │           │
	│  │  - WithSession("3f2a9c...")                │           │
	│  │  - WithRequest("req_1749..._k3j9x0q2m")    │           │
	│  │  - WithContainer("b8e1d4...")              │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  JSON Format:                              │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "session-manager",         │           │
	│  │    "session_id": "3f2a9c...",              │           │
	│  │    "time": "2025-06-12T10:15:04Z",         │           │
	│  │    "message": "Session running"            │           │
	│  │  }                                         │           │
	│  │                                            │           │
	│  │  Console Format:                           │           │
	│  │  10:15AM INF Session running component=session-manager │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init() in the serve command
  - Accessible from all gateway packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithSession: Add session ID context
  - WithRequest: Add request ID context
  - WithContainer: Add container ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Readiness probe attempt 3: connection refused"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Session running: 3f2a9c... on port 4217"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Quota check failed, proceeding (fail-open)"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to start container: image not found"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Invalid configuration: port range inverted"

# Usage

Initializing the Logger:

	import "github.com/cuemby/hutch/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Gateway started")
	log.Debug("Pruning rate limiter map")
	log.Warn("Security event write failed")
	log.Error("Workspace removal failed")
	log.Fatal("Cannot bind listen address") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("session_id", session.ID).
		Int("port", session.Port).
		Msg("Session running")

	log.Logger.Error().
		Err(err).
		Str("container_id", containerID).
		Msg("Container failed to become ready")

Component Loggers:

	// Create component-specific logger
	managerLog := log.WithComponent("session-manager")
	managerLog.Info().Msg("Starting reaper loop")
	managerLog.Debug().Str("session_id", id).Msg("Reaping idle session")

	// Multiple context fields
	reqLog := log.WithComponent("api").
		With().Str("request_id", requestID).
		Str("path", r.URL.Path).Logger()
	reqLog.Info().Msg("Request handled")

Context Logger Helpers:

	// Session-specific logs
	sessLog := log.WithSession("3f2a9c...")
	sessLog.Info().Msg("File patched")

	// Request-specific logs
	reqLog := log.WithRequest(requestID)
	reqLog.Warn().Msg("Rate limit exceeded")

# Integration Points

  - cmd/hutch: calls Init from the serve command before components start
  - pkg/api: attaches request ids to every handled request
  - pkg/session: attaches session ids across create/patch/stop/reap
  - pkg/runtime: attaches container ids to driver operations
  - pkg/policy: logs upstream call failures with request context

# Design Patterns

Global Singleton:

	One package-level Logger configured once. Child loggers are cheap
	copies with extra fields; they share the sink and level.

Field Correlation:

	request_id ties together ingress, auth, and handler lines for one
	request; session_id ties together every lifecycle line for one
	session. Support can follow either id through the full flow.

Error Attachment:

	Errors ride in the Err field, never formatted into the message
	string, so JSON consumers can index them.

# Performance Characteristics

  - Zero-allocation writes for disabled levels
  - Child logger creation is a struct copy, no locking
  - Console writer is for humans; JSON output is the hot path
  - Level checks short-circuit before field evaluation

# Troubleshooting

No output at all:
  - Init was not called; the zero Logger writes nowhere useful
  - Level set above the line being emitted

Missing request ids:
  - Handler bypassed the ingress middleware chain
  - Line emitted from a goroutine that did not inherit the child logger

Console output in production:
  - JSONOutput was left false; set HUTCH_LOG_JSON=true

# Security

  - Never log API keys, bearer tokens, or file contents
  - Client IPs and user agents are logged only on security events
  - Session ids are capability tokens; log sinks must be treated as
    sensitive

# See Also

  - pkg/api for request-id generation and middleware
  - pkg/session for lifecycle logging conventions
  - https://github.com/rs/zerolog for the underlying library
*/
package log
