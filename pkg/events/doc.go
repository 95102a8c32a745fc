/*
Package events provides the event hub: in-memory pub/sub plus its WebSocket edge.

The events package routes session lifecycle events to browser subscribers. The
Broker keeps per-session subscriber sets with non-blocking delivery; the Hub
upgrades /ws connections, speaks the small subscribe/unsubscribe/ping protocol,
and forwards matching events as JSON frames.

# Architecture

	┌─────────────────────── EVENT HUB ────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │                  Broker                     │         │
	│  │  - session id -> subscriber set             │         │
	│  │  - Publish -> event channel (buffer: 100)   │         │
	│  │  - broadcast loop, non-blocking sends       │         │
	│  │  - slow subscribers lose events, never      │         │
	│  │    stall the publisher                      │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │                   Hub                       │         │
	│  │  - gorilla/websocket upgrade on /ws         │         │
	│  │  - read loop: subscribe / unsubscribe /     │         │
	│  │    ping -> pong, unknown -> error frame     │         │
	│  │  - write loop: single writer, forwards      │         │
	│  │    events, protocol-level keepalive pings   │         │
	│  │  - disconnect drops the subscriber from     │         │
	│  │    every session                            │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │              Browser clients                │         │
	│  │  {"type":"subscribe","sessionId":"..."}     │         │
	│  │  <- {"type":"status","sessionId":"...",     │         │
	│  │      "status":"running"}                    │         │
	│  └────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Client Protocol

Inbound frames:

	{"type": "subscribe",   "sessionId": "<id>"}
	{"type": "unsubscribe", "sessionId": "<id>"}
	{"type": "ping"}

Outbound frames:

	{"type": "pong"}
	{"type": "error", "error": "unknown message type"}
	{"type": "status", "sessionId": "<id>", "status": "running"}
	{"type": "logs", "sessionId": "<id>", "lines": ["..."]}

Unknown inbound frames get an error frame back and the connection stays
open, so older gateways tolerate newer clients.

# Delivery Guarantees

Delivery is best-effort by construction. A subscriber that cannot keep
up has events dropped silently (counted in hutch_events_dropped_total);
status can always be re-read from GET /api/sessions/:id. One WebSocket
connection owns one subscriber channel regardless of how many sessions
it watches, so a browser tab with three previews costs one goroutine
pair, not three.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	hub := events.NewHub(broker, originCheck)
	mux.HandleFunc("/ws", hub.ServeWS)

	// From the session manager:
	broker.Publish(&events.Event{
		SessionID: session.ID,
		Payload: types.StatusEvent{
			Type:      "status",
			SessionID: session.ID,
			Status:    types.SessionRunning,
		},
	})

# Integration Points

This package integrates with:

  - pkg/session: publishes status transitions and log batches
  - pkg/api: mounts ServeWS on /ws
  - pkg/metrics: subscriber gauge and dropped-event counter
  - pkg/types: StatusEvent and LogEvent payload shapes
*/
package events
