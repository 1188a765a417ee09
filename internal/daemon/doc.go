// Package daemon coordinates the long-running studio process.
//
// It wires configuration, the job store, the generation runner, the queue
// status reconciler, the refresh driver and the gallery resolver into a single
// lifecycle with flock-based locking to prevent multiple instances. The HTTP
// API served here is the only control surface: queue actions, gallery
// browsing, system stats and a websocket that pushes refresh events.
//
// Keep orchestration logic here: polling, formatting and queue semantics live
// in their respective packages while the daemon focuses on startup, shutdown
// and routing.
package daemon
